package auction

import (
	"github.com/adweave/aip-coordinator/pkg/platform"
)

// Classify derives the distribution pools for a context request. Sources are
// consulted in a fixed order and the first non-empty one wins: the top-level
// category_pools, categories, and pools hints, the same keys nested under
// context, then features.topic. A scalar hint becomes a singleton pool;
// duplicates collapse to the first occurrence; no hint at all means the
// default pool.
func Classify(cr *platform.ContextRequest) []string {
	sources := []any{
		cr.CategoryPools,
		cr.Categories,
		cr.Pools,
	}

	if cr.Context != nil {
		sources = append(sources,
			cr.Context["category_pools"],
			cr.Context["categories"],
			cr.Context["pools"],
		)
	}

	if cr.Features != nil {
		sources = append(sources, cr.Features["topic"])
	}

	for _, source := range sources {
		if pools := poolList(source); len(pools) > 0 {
			return dedupe(pools)
		}
	}

	return []string{"default"}
}

// poolList coerces a classification hint into a list of pool names.
func poolList(v any) []string {
	switch hint := v.(type) {
	case string:
		if hint == "" {
			return nil
		}

		return []string{hint}
	case []string:
		return hint
	case []any:
		var out []string

		for _, item := range hint {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(pools []string) []string {
	seen := make(map[string]struct{}, len(pools))
	out := make([]string, 0, len(pools))

	for _, pool := range pools {
		if _, dup := seen[pool]; dup {
			continue
		}

		seen[pool] = struct{}{}
		out = append(out, pool)
	}

	return out
}
