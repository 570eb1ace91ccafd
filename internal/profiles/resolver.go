package profiles

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
)

var (
	errMissingDirectory = errors.New("user directory is required")
	errMissingFollows   = errors.New("follow checker is required")
)

const (
	opResolverNew       = "profiles.resolver.new"
	opResolve           = "profiles.resolve"
	opResolveByUsername = "profiles.resolve_by_username"
)

// Profile is the viewer-relative public view of a user.
type Profile struct {
	UserID    string
	Username  string
	Bio       *string
	Image     *string
	Following bool
}

// Directory looks up users; fulfilled by the users service.
type Directory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
	GetByUsername(ctx context.Context, username string) (*users.User, error)
}

// FollowChecker answers whether a live follow exists; fulfilled by the
// follow ledger.
type FollowChecker interface {
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
}

// ResolverConfig describes the dependencies of the profile resolver.
type ResolverConfig struct {
	Directory Directory
	Follows   FollowChecker
}

// Resolver merges identity data with relationship state. Every author view
// and explicit profile view goes through it so the following flag has a
// single source of truth.
type Resolver struct {
	directory Directory
	follows   FollowChecker
}

// NewResolver constructs the profile resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Directory == nil {
		return nil, fault.Internal(opResolverNew, "missing_directory", errMissingDirectory)
	}
	if cfg.Follows == nil {
		return nil, fault.Internal(opResolverNew, "missing_follow_checker", errMissingFollows)
	}
	return &Resolver{directory: cfg.Directory, follows: cfg.Follows}, nil
}

// Resolve returns the public profile of targetUserID. viewerID may be nil
// for anonymous reads, in which case following is always false.
func (r *Resolver) Resolve(ctx context.Context, targetUserID string, viewerID *string) (Profile, error) {
	target, err := r.directory.GetByID(ctx, targetUserID)
	if err != nil {
		return Profile{}, err
	}
	return r.assemble(ctx, opResolve, target, viewerID)
}

// ResolveByUsername is Resolve keyed by username, for callers arriving from
// the URL namespace.
func (r *Resolver) ResolveByUsername(ctx context.Context, username string, viewerID *string) (Profile, error) {
	target, err := r.directory.GetByUsername(ctx, username)
	if err != nil {
		return Profile{}, err
	}
	return r.assemble(ctx, opResolveByUsername, target, viewerID)
}

func (r *Resolver) assemble(ctx context.Context, operation string, target *users.User, viewerID *string) (Profile, error) {
	following := false
	if viewerID != nil && *viewerID != "" && *viewerID != target.ID {
		isFollowing, err := r.follows.IsFollowing(ctx, *viewerID, target.ID)
		if err != nil {
			return Profile{}, fault.Internal(operation, "follow_check_failed", err)
		}
		following = isFollowing
	}

	return Profile{
		UserID:    target.ID,
		Username:  target.Username,
		Bio:       target.Bio,
		Image:     target.Image,
		Following: following,
	}, nil
}
