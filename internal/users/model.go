package users

import (
	"strings"
	"time"
)

// User is the canonical account row. The password hash is opaque to every
// other package; only this one touches it.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	Username     string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	Bio          *string   `gorm:"column:bio;type:text"`
	Image        *string   `gorm:"column:image;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// UpdatePatch carries partial account changes. Nil means "leave unchanged";
// a pointer to an empty string is an intentional clear where allowed.
type UpdatePatch struct {
	Username *string
	Email    *string
	Password *string
	Bio      *string
	Image    *string
}

func (p UpdatePatch) empty() bool {
	return p.Username == nil && p.Email == nil && p.Password == nil && p.Bio == nil && p.Image == nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
