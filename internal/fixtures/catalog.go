package fixtures

import (
	"sort"
	"sync"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Catalog is a thread-safe set of scenarios keyed by ID.
type Catalog struct {
	mu        sync.RWMutex
	scenarios map[string]*Scenario
}

// NewCatalog creates a catalog holding the given scenarios. Later duplicates
// replace earlier ones.
func NewCatalog(scenarios ...*Scenario) *Catalog {
	c := &Catalog{scenarios: make(map[string]*Scenario, len(scenarios))}
	for _, s := range scenarios {
		if s == nil || s.ID == "" {
			continue
		}
		c.scenarios[s.ID] = s.Normalized()
	}
	return c
}

// Builtin returns a fresh catalog with the scenarios shipped in the binary.
func Builtin() *Catalog {
	list := make([]*Scenario, len(builtinScenarios))
	for i := range builtinScenarios {
		s := builtinScenarios[i]
		list[i] = &s
	}
	return NewCatalog(list...)
}

// Add inserts a scenario. Returns CONFLICT if the ID is already present.
func (c *Catalog) Add(s *Scenario) error {
	if s == nil || s.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "scenario id is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.scenarios[s.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scenario %q already registered", s.ID)
	}
	c.scenarios[s.ID] = s.Normalized()
	return nil
}

// Get returns a copy of the scenario, so callers cannot mutate the catalog.
func (c *Catalog) Get(id string) (*Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.scenarios[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not found", id).
			WithDetails(map[string]any{"available": c.idsLocked()})
	}
	return s.Normalized(), nil
}

// Has reports whether id is present.
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.scenarios[id]
	return ok
}

// IDs returns every scenario ID, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idsLocked()
}

// List returns copies of every scenario, sorted by ID.
func (c *Catalog) List() []*Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Scenario, 0, len(c.scenarios))
	for _, id := range c.idsLocked() {
		out = append(out, c.scenarios[id].Normalized())
	}
	return out
}

// Count returns the number of scenarios.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scenarios)
}

func (c *Catalog) idsLocked() []string {
	ids := make([]string, 0, len(c.scenarios))
	for id := range c.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
