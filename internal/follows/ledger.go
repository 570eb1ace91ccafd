package follows

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUsers    = errors.New("user source is required")
	noOpLogger         = zap.NewNop()
)

const (
	opLedgerNew   = "follows.ledger.new"
	opFollow      = "follows.follow"
	opUnfollow    = "follows.unfollow"
	opIsFollowing = "follows.is_following"
	opFollowedIDs = "follows.followed_ids"
)

// Follow is one follower↔followed row with the same revive-on-conflict
// semantics as a favorite: soft-deleted rows are history, re-following
// clears deleted_at instead of inserting a duplicate.
type Follow struct {
	FollowerID string     `gorm:"column:follower_id;primaryKey;size:36;not null;index"`
	FollowedID string     `gorm:"column:followed_id;primaryKey;size:36;not null;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	DeletedAt  *time.Time `gorm:"column:deleted_at"`
}

// TableName provides the explicit table binding for GORM.
func (Follow) TableName() string {
	return "follows"
}

// UserSource answers whether a user id exists in the directory.
type UserSource interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// LedgerConfig describes the dependencies of the follow ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Users    UserSource
	Logger   *zap.Logger
}

// Ledger owns the user↔user follow relationship.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	users  UserSource
	logger *zap.Logger
}

// NewLedger constructs the follow ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil {
		return nil, fault.Internal(opLedgerNew, "missing_user_source", errMissingUsers)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, users: cfg.Users, logger: logger}, nil
}

// Follow records that followerID follows followedID. Self-follow is rejected
// with a validation error; following an already-followed user is a no-op.
func (l *Ledger) Follow(ctx context.Context, followerID, followedID string) error {
	if followerID == followedID {
		return fault.Validation(opFollow, "self_follow", nil)
	}

	exists, err := l.users.Exists(ctx, followedID)
	if err != nil {
		return err
	}
	if !exists {
		return fault.NotFound(opFollow, "followed_missing", nil)
	}

	row := Follow{
		FollowerID: followerID,
		FollowedID: followedID,
		CreatedAt:  l.clock().UTC(),
	}
	err = l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "follower_id"}, {Name: "followed_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"deleted_at": nil}),
		}).
		Create(&row).Error
	if err != nil {
		l.logError(opFollow, "upsert_failed", err, zap.String("follower_id", followerID), zap.String("followed_id", followedID))
		return fault.Internal(opFollow, "upsert_failed", err)
	}
	return nil
}

// Unfollow clears a live follow. Absence is a silent success.
func (l *Ledger) Unfollow(ctx context.Context, followerID, followedID string) error {
	now := l.clock().UTC()
	err := l.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND followed_id = ? AND deleted_at IS NULL", followerID, followedID).
		Update("deleted_at", now).Error
	if err != nil {
		l.logError(opUnfollow, "update_failed", err, zap.String("follower_id", followerID), zap.String("followed_id", followedID))
		return fault.Internal(opUnfollow, "update_failed", err)
	}
	return nil
}

// IsFollowing reports whether a live follow row exists for the pair.
func (l *Ledger) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND followed_id = ? AND deleted_at IS NULL", followerID, followedID).
		Count(&count).Error
	if err != nil {
		l.logError(opIsFollowing, "query_failed", err)
		return false, fault.Internal(opIsFollowing, "query_failed", err)
	}
	return count > 0, nil
}

// FollowedIDs returns the ids of every user the follower currently follows.
func (l *Ledger) FollowedIDs(ctx context.Context, followerID string) ([]string, error) {
	ids := make([]string, 0)
	err := l.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_id = ? AND deleted_at IS NULL", followerID).
		Pluck("followed_id", &ids).Error
	if err != nil {
		l.logError(opFollowedIDs, "query_failed", err, zap.String("follower_id", followerID))
		return nil, fault.Internal(opFollowedIDs, "query_failed", err)
	}
	return ids, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("follows ledger error", attrs...)
}
