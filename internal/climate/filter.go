package climate

import (
	"path"
	"strings"

	"go.uber.org/zap"
)

// Filter selects which climate entities are surfaced using glob patterns
// matched against the entity id, the id without the "climate." prefix, or
// the friendly name. Matching is case-insensitive. An empty filter matches
// every climate entity.
type Filter struct {
	patterns []string
	logger   *zap.Logger
}

// NewFilter creates a filter from glob patterns in path.Match syntax, e.g.
// "climate.*bedroom*" or "Living Room". Blank patterns are ignored.
func NewFilter(patterns []string, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{logger: logger}
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			f.patterns = append(f.patterns, p)
		}
	}
	return f
}

// Match reports whether an entity with the given id and display name passes.
func (f *Filter) Match(entityID, name string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}

	id := Key(entityID)
	candidates := []string{id, strings.TrimPrefix(id, EntityPrefix)}
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		candidates = append(candidates, name)
	}

	for _, pat := range f.patterns {
		for _, c := range candidates {
			matched, err := path.Match(pat, c)
			if err != nil {
				f.logger.Debug("Invalid include pattern", zap.String("pattern", pat), zap.Error(err))
				break
			}
			if matched {
				return true
			}
		}
	}
	return false
}

// Patterns returns the normalised patterns.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return cloneStrings(f.patterns)
}
