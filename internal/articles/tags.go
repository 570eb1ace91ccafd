package articles

import (
	"sort"

	"github.com/gosimple/slug"
)

// NormalizeTags canonicalizes a free-text tag list: each tag is trimmed,
// lowercased and slug-cased, degenerate tags are dropped, duplicates collapse,
// and the result comes back sorted. Total function; never returns nil.
func NormalizeTags(rawTags []string) []string {
	seen := make(map[string]struct{}, len(rawTags))
	normalized := make([]string, 0, len(rawTags))
	for _, raw := range rawTags {
		name := slug.Make(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	sort.Strings(normalized)
	return normalized
}
