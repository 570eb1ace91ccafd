package articles

import (
	"regexp"
	"testing"
)

var slugCharset = regexp.MustCompile(`^[a-z0-9-]+$`)

func TestMakeSlugAppendsToken(t *testing.T) {
	got := makeSlug("How to Train Your Dragon", "abcd1234")
	want := "how-to-train-your-dragon-abcd1234"
	if got != want {
		t.Fatalf("unexpected slug %q, want %q", got, want)
	}
}

func TestMakeSlugFallsBackToTokenForSymbolTitles(t *testing.T) {
	got := makeSlug("???", "abcd1234")
	if got != "abcd1234" {
		t.Fatalf("unexpected slug %q", got)
	}
}

func TestUUIDTokenProviderIssuesDistinctURLSafeTokens(t *testing.T) {
	provider := NewUUIDTokenProvider()

	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		token, err := provider.NewToken()
		if err != nil {
			t.Fatalf("unexpected token error: %v", err)
		}
		if len(token) != slugTokenLength {
			t.Fatalf("unexpected token length %d for %q", len(token), token)
		}
		if !slugCharset.MatchString(token) {
			t.Fatalf("token %q contains characters outside the slug charset", token)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("token %q issued twice", token)
		}
		seen[token] = struct{}{}
	}
}
