package core

import (
	"fmt"
	"sort"
	"sync"
)

// FieldSpec describes one column of an entity.
type FieldSpec struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Kind  Kind   `json:"-"`
}

// EntityDefinition is everything the pipeline knows about one entity type.
type EntityDefinition struct {
	Type      string           `json:"type"`
	Label     string           `json:"label"`
	Group     string           `json:"group"`
	UniqueKey []string         `json:"uniqueKey"`
	Fields    []FieldSpec      `json:"fields"`
	Rules     []ValidationRule `json:"rules"`

	// Renames maps header aliases to field names ("sku_code" -> "sku").
	Renames map[string]string `json:"renames,omitempty"`
}

// FieldNames returns the field names in declaration order.
func (d EntityDefinition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Hints returns the decode kind for every non-string field.
func (d EntityDefinition) Hints() map[string]Kind {
	hints := make(map[string]Kind)
	for _, f := range d.Fields {
		if f.Kind != KindString && f.Kind != KindNull {
			hints[f.Name] = f.Kind
		}
	}
	return hints
}

var (
	registry   = make(map[string]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the catalog.
// Panics if the type is already registered.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Type))
	}
	registry[def.Type] = def
}

// Get returns an entity definition by type.
func Get(entityType string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[entityType]
	return def, ok
}

// All returns every registered entity, sorted by group then type.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Type < result[j].Type
	})

	return result
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]EntityDefinition)
}
