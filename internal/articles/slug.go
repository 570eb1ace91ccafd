package articles

import (
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// TokenProvider issues the opaque disambiguator appended to article slugs.
// The token must be collision-resistant on its own: two articles created with
// the same title in the same instant still get distinct slugs.
type TokenProvider interface {
	NewToken() (string, error)
}

const slugTokenLength = 8

type uuidTokenProvider struct{}

// NewUUIDTokenProvider constructs a TokenProvider backed by the random tail
// of a UUIDv7.
func NewUUIDTokenProvider() TokenProvider {
	return &uuidTokenProvider{}
}

func (p *uuidTokenProvider) NewToken() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	compact := strings.ReplaceAll(value.String(), "-", "")
	return compact[len(compact)-slugTokenLength:], nil
}

// makeSlug builds the canonical slug for a title: slugified title text plus
// the disambiguating token. A title that slugifies to nothing (all symbols)
// falls back to the token alone.
func makeSlug(title, token string) string {
	base := slug.Make(title)
	if base == "" {
		return token
	}
	return base + "-" + token
}
