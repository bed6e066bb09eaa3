package schema

import (
	"fmt"
	"sort"

	"github.com/c360/eventpublisher/errors"
)

// PositionMap resolves a placeholder key to its index in the flattened layout.
// Meta and correlation attributes are reachable by their prefixed key ("meta_x",
// "correlation_y") and by bare name; payload attributes by bare name only.
// A PositionMap is immutable and safe for concurrent use.
type PositionMap struct {
	positions map[string]int
	width     int
}

// NewPositionMap builds the position map for a stream definition
func NewPositionMap(def *StreamDefinition) (PositionMap, error) {
	positions, err := buildPositions(def)
	if err != nil {
		return PositionMap{}, errors.WrapInvalid(err, "PositionMap", "NewPositionMap", "index attributes")
	}
	return PositionMap{positions: positions, width: def.Width()}, nil
}

func buildPositions(def *StreamDefinition) (map[string]int, error) {
	positions := make(map[string]int, def.Width()*2)
	owners := make(map[string]string, def.Width()*2)

	add := func(key string, index int, attr Attribute) error {
		if owner, exists := owners[key]; exists {
			return fmt.Errorf("%w: placeholder key %q of %s attribute %s collides with %s",
				errors.ErrInvalidConfig, key, attr.Group, attr.Name, owner)
		}
		positions[key] = index
		owners[key] = attr.Group.String() + " attribute " + attr.Name
		return nil
	}

	for i, attr := range def.Flatten() {
		if prefix := attr.Group.Prefix(); prefix != "" {
			if err := add(prefix+attr.Name, i, attr); err != nil {
				return nil, err
			}
		}
		if err := add(attr.Name, i, attr); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// Index returns the layout index for key
func (p PositionMap) Index(key string) (int, bool) {
	i, ok := p.positions[key]
	return i, ok
}

// Has reports whether key resolves to an attribute
func (p PositionMap) Has(key string) bool {
	_, ok := p.positions[key]
	return ok
}

// Width is the flattened layout length of the schema the map was built from
func (p PositionMap) Width() int {
	return p.width
}

// Len returns the number of resolvable keys
func (p PositionMap) Len() int {
	return len(p.positions)
}

// Keys returns all resolvable keys in sorted order
func (p PositionMap) Keys() []string {
	keys := make([]string, 0, len(p.positions))
	for k := range p.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
