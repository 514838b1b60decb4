package climate

import (
	"math"
	"sort"
	"strings"
	"sync"

	"climatesync/internal/ha"

	"go.uber.org/zap"
)

// Tolerance below which two temperatures are considered equal.
const Tolerance = 0.01

// ChangeKind classifies a table mutation.
type ChangeKind int

const (
	Added ChangeKind = iota
	Changed
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one table mutation. State is a copy of the new state and is nil
// for Removed.
type Change struct {
	Kind     ChangeKind
	EntityID string
	State    *State
}

// Reconciler owns the table of known climate entities. Entities are keyed
// case-insensitively and replaced wholesale on every observation.
type Reconciler struct {
	filter *Filter
	logger *zap.Logger

	mu       sync.RWMutex
	entities map[string]*State
}

// NewReconciler creates an empty table. A nil filter admits every climate entity.
func NewReconciler(filter *Filter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		filter:   filter,
		logger:   logger,
		entities: make(map[string]*State),
	}
}

// ApplySnapshot reconciles the table against a full get_states result.
// New entities are Added, known ones Changed unconditionally, and known
// entities missing from the snapshot are Removed.
func (r *Reconciler) ApplySnapshot(raw []*ha.State) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	seen := make(map[string]bool)

	for _, rs := range raw {
		s := r.admit(rs)
		if s == nil {
			continue
		}
		key := Key(s.EntityID)
		seen[key] = true

		kind := Changed
		if _, known := r.entities[key]; !known {
			kind = Added
		}
		r.entities[key] = s
		changes = append(changes, Change{Kind: kind, EntityID: s.EntityID, State: s.Clone()})
	}

	var stale []string
	for key := range r.entities {
		if !seen[key] {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	for _, key := range stale {
		changes = append(changes, r.remove(key))
	}

	r.logger.Debug("Applied state snapshot",
		zap.Int("payloads", len(raw)),
		zap.Int("entities", len(r.entities)),
		zap.Int("removed", len(stale)))
	return changes
}

// ApplyEvent reconciles one state_changed event. A nil newState removes the
// entity. Known entities are always replaced but only reported Changed when
// a compared field moved.
func (r *Reconciler) ApplyEvent(entityID string, newState *ha.State) []Change {
	if !IsClimateEntity(entityID) {
		return nil
	}
	key := Key(entityID)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, known := r.entities[key]

	if newState == nil {
		if !known {
			return nil
		}
		return []Change{r.remove(key)}
	}

	rs := *newState
	if rs.EntityID == "" {
		rs.EntityID = entityID
	}
	s := r.admit(&rs)
	if s == nil {
		// Renamed out of the include filter.
		if known {
			return []Change{r.remove(key)}
		}
		return nil
	}

	r.entities[key] = s
	switch {
	case !known:
		return []Change{{Kind: Added, EntityID: s.EntityID, State: s.Clone()}}
	case MeaningfulChange(prev, s):
		return []Change{{Kind: Changed, EntityID: s.EntityID, State: s.Clone()}}
	default:
		return nil
	}
}

// Get returns a copy of the entity's state.
func (r *Reconciler) Get(entityID string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entities[Key(entityID)]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Entities returns copies of every known entity ordered by entity id.
func (r *Reconciler) Entities() []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*State, 0, len(r.entities))
	for _, s := range r.entities {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].EntityID) < Key(out[j].EntityID)
	})
	return out
}

// Len returns the number of known entities.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// admit parses rs and applies the namespace and include filter.
func (r *Reconciler) admit(rs *ha.State) *State {
	if rs == nil || !IsClimateEntity(rs.EntityID) {
		return nil
	}
	s := Parse(rs)
	if !r.filter.Match(s.EntityID, s.Name) {
		return nil
	}
	return s
}

// remove deletes key. Callers hold r.mu.
func (r *Reconciler) remove(key string) Change {
	s := r.entities[key]
	delete(r.entities, key)
	return Change{Kind: Removed, EntityID: s.EntityID}
}

// MeaningfulChange reports whether next differs from prev in a field that
// callers are notified about. Names, limits, step, units and capability
// lists are not compared.
func MeaningfulChange(prev, next *State) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return !strings.EqualFold(prev.HvacMode, next.HvacMode) ||
		!strings.EqualFold(prev.FanMode, next.FanMode) ||
		!strings.EqualFold(prev.Action, next.Action) ||
		!sameTemp(prev.CurrentTemperature, next.CurrentTemperature) ||
		!sameTemp(prev.TargetTemperature, next.TargetTemperature) ||
		!sameTemp(prev.HeatSetpoint, next.HeatSetpoint) ||
		!sameTemp(prev.CoolSetpoint, next.CoolSetpoint)
}

func sameTemp(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) <= Tolerance
}
