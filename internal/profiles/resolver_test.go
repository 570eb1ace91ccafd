package profiles

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/conduit/backend/internal/fault"
	"github.com/MarcoPoloResearchLab/conduit/backend/internal/users"
)

type stubDirectory struct {
	byID       map[string]*users.User
	byUsername map[string]*users.User
}

func (s stubDirectory) GetByID(ctx context.Context, id string) (*users.User, error) {
	user, found := s.byID[id]
	if !found {
		return nil, fault.NotFound("users.get", "user_missing", nil)
	}
	return user, nil
}

func (s stubDirectory) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	user, found := s.byUsername[username]
	if !found {
		return nil, fault.NotFound("users.get", "user_missing", nil)
	}
	return user, nil
}

type stubFollowChecker struct {
	pairs map[string]bool
}

func (s stubFollowChecker) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	return s.pairs[followerID+"->"+followedID], nil
}

func newTestResolver(t *testing.T, members []*users.User, followPairs map[string]bool) *Resolver {
	t.Helper()

	directory := stubDirectory{
		byID:       map[string]*users.User{},
		byUsername: map[string]*users.User{},
	}
	for _, member := range members {
		directory.byID[member.ID] = member
		directory.byUsername[member.Username] = member
	}
	if followPairs == nil {
		followPairs = map[string]bool{}
	}

	resolver, err := NewResolver(ResolverConfig{
		Directory: directory,
		Follows:   stubFollowChecker{pairs: followPairs},
	})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}
	return resolver
}

func strPtr(value string) *string {
	return &value
}

func TestResolveAnonymousViewerNeverFollows(t *testing.T) {
	resolver := newTestResolver(t, []*users.User{
		{ID: "user-1", Username: "jane", Bio: strPtr("writes things")},
	}, map[string]bool{"anyone->user-1": true})

	profile, err := resolver.Resolve(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Username != "jane" {
		t.Fatalf("unexpected username %q", profile.Username)
	}
	if profile.Bio == nil || *profile.Bio != "writes things" {
		t.Fatalf("unexpected bio %v", profile.Bio)
	}
	if profile.Following {
		t.Fatalf("anonymous viewer must see following=false")
	}
}

func TestResolveReflectsViewerFollowState(t *testing.T) {
	resolver := newTestResolver(t, []*users.User{
		{ID: "user-1", Username: "jane"},
		{ID: "user-2", Username: "john"},
	}, map[string]bool{"user-2->user-1": true})

	viewer := "user-2"
	profile, err := resolver.Resolve(context.Background(), "user-1", &viewer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !profile.Following {
		t.Fatalf("expected following=true for an active follow")
	}

	stranger := "user-3"
	profile, err = resolver.Resolve(context.Background(), "user-1", &stranger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Following {
		t.Fatalf("expected following=false without a follow row")
	}
}

func TestResolveSelfViewIsNeverFollowing(t *testing.T) {
	resolver := newTestResolver(t, []*users.User{
		{ID: "user-1", Username: "jane"},
	}, map[string]bool{"user-1->user-1": true})

	viewer := "user-1"
	profile, err := resolver.Resolve(context.Background(), "user-1", &viewer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Following {
		t.Fatalf("self view must report following=false")
	}
}

func TestResolveByUsername(t *testing.T) {
	resolver := newTestResolver(t, []*users.User{
		{ID: "user-1", Username: "jane", Image: strPtr("https://example.test/jane.png")},
	}, nil)

	profile, err := resolver.ResolveByUsername(context.Background(), "jane", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.UserID != "user-1" {
		t.Fatalf("unexpected user id %q", profile.UserID)
	}
	if profile.Image == nil || *profile.Image != "https://example.test/jane.png" {
		t.Fatalf("unexpected image %v", profile.Image)
	}
}

func TestResolveMissingUserIsNotFound(t *testing.T) {
	resolver := newTestResolver(t, nil, nil)

	if _, err := resolver.Resolve(context.Background(), "ghost", nil); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found by id, got %v", err)
	}
	if _, err := resolver.ResolveByUsername(context.Background(), "ghost", nil); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found by username, got %v", err)
	}
}
