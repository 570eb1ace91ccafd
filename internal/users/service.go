package users

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/ids"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew   = "users.service.new"
	opRegister     = "users.register"
	opAuthenticate = "users.authenticate"
	opGetByID      = "users.get_by_id"
	opGetByUser    = "users.get_by_username"
	opGetByEmail   = "users.get_by_email"
	opUpdate       = "users.update"
	opExists       = "users.exists"
)

// ServiceConfig describes the dependencies of the user directory.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns account rows: registration, credential checks and profile
// field updates. It doubles as the user directory for the relationship ledgers.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the user directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Register creates an account with a bcrypt password hash. Username and email
// must be unused; collisions surface as fault.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	username = normalize(username)
	email = normalize(email)
	if username == "" {
		return nil, fault.Validation(opRegister, "empty_username", nil)
	}
	if email == "" {
		return nil, fault.Validation(opRegister, "empty_email", nil)
	}
	if password == "" {
		return nil, fault.Validation(opRegister, "empty_password", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return nil, fault.Internal(opRegister, "hash_failed", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return nil, fault.Internal(opRegister, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	user := User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return fault.Internal(opRegister, "username_check_failed", err)
		}
		if count > 0 {
			return fault.AlreadyExists(opRegister, "username_taken", nil)
		}
		if err := tx.Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return fault.Internal(opRegister, "email_check_failed", err)
		}
		if count > 0 {
			return fault.AlreadyExists(opRegister, "email_taken", nil)
		}
		if err := tx.Create(&user).Error; err != nil {
			return fault.Internal(opRegister, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", username))
	return &user, nil
}

// Authenticate verifies the email/password pair and returns the account.
// Both an unknown email and a wrong password yield fault.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalize(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.Unauthorized(opAuthenticate, "unknown_email", nil)
	}
	if err != nil {
		s.logError(opAuthenticate, "query_failed", err)
		return nil, fault.Internal(opAuthenticate, "query_failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fault.Unauthorized(opAuthenticate, "password_mismatch", nil)
	}

	return &user, nil
}

// GetByID returns the account for the given canonical id.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, opGetByID, "id = ?", id)
}

// GetByUsername returns the account for the given username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getOne(ctx, opGetByUser, "username = ?", normalize(username))
}

// GetByEmail returns the account for the given email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, opGetByEmail, "email = ?", normalize(email))
}

// Exists reports whether an account with the given id is present.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		s.logError(opExists, "query_failed", err, zap.String("user_id", id))
		return false, fault.Internal(opExists, "query_failed", err)
	}
	return count > 0, nil
}

// Update applies the provided fields to the account. An empty patch is a
// no-op that leaves updated_at untouched.
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) (*User, error) {
	if patch.empty() {
		return s.GetByID(ctx, id)
	}

	var updated User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		err := tx.Where("id = ?", id).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.NotFound(opUpdate, "user_missing", nil)
		}
		if err != nil {
			return fault.Internal(opUpdate, "query_failed", err)
		}

		if patch.Username != nil {
			username := normalize(*patch.Username)
			if username == "" {
				return fault.Validation(opUpdate, "empty_username", nil)
			}
			var count int64
			if err := tx.Model(&User{}).Where("username = ? AND id <> ?", username, id).Count(&count).Error; err != nil {
				return fault.Internal(opUpdate, "username_check_failed", err)
			}
			if count > 0 {
				return fault.AlreadyExists(opUpdate, "username_taken", nil)
			}
			user.Username = username
		}
		if patch.Email != nil {
			email := normalize(*patch.Email)
			if email == "" {
				return fault.Validation(opUpdate, "empty_email", nil)
			}
			var count int64
			if err := tx.Model(&User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
				return fault.Internal(opUpdate, "email_check_failed", err)
			}
			if count > 0 {
				return fault.AlreadyExists(opUpdate, "email_taken", nil)
			}
			user.Email = email
		}
		if patch.Password != nil {
			if *patch.Password == "" {
				return fault.Validation(opUpdate, "empty_password", nil)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(*patch.Password), bcrypt.DefaultCost)
			if err != nil {
				return fault.Internal(opUpdate, "hash_failed", err)
			}
			user.PasswordHash = string(hash)
		}
		if patch.Bio != nil {
			user.Bio = patch.Bio
		}
		if patch.Image != nil {
			user.Image = patch.Image
		}

		user.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&user).Error; err != nil {
			return fault.Internal(opUpdate, "save_failed", err)
		}
		updated = user
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, fault.ErrInternal) {
			return nil, txErr
		}
		s.logError(opUpdate, "transaction_failed", txErr, zap.String("user_id", id))
		return nil, txErr
	}

	return &updated, nil
}

func (s *Service) getOne(ctx context.Context, operation, condition string, value string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(condition, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound(operation, "user_missing", nil)
	}
	if err != nil {
		s.logError(operation, "query_failed", err)
		return nil, fault.Internal(operation, "query_failed", err)
	}
	return &user, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
