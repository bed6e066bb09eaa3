package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventpublisher/errors"
)

// Registry supplies stream definitions by stream id.
type Registry interface {
	Get(ctx context.Context, streamID string) (*StreamDefinition, error)
}

// MemoryRegistry is an in-process Registry. Definitions are validated on registration
// and never modified afterwards.
type MemoryRegistry struct {
	mu          sync.RWMutex
	definitions map[string]*StreamDefinition
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{definitions: make(map[string]*StreamDefinition)}
}

// Register validates and stores a definition. Registering the same stream id twice fails.
func (r *MemoryRegistry) Register(def *StreamDefinition) error {
	if def == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MemoryRegistry", "Register", "nil stream definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := def.StreamID()
	if _, exists := r.definitions[id]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stream %s already registered", errors.ErrInvalidConfig, id),
			"MemoryRegistry", "Register", "check duplicate")
	}
	r.definitions[id] = def
	return nil
}

// Get returns the definition for streamID. A bare name resolves to DefaultVersion.
func (r *MemoryRegistry) Get(_ context.Context, streamID string) (*StreamDefinition, error) {
	if !strings.Contains(streamID, ":") {
		streamID += ":" + DefaultVersion
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[streamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrStreamNotFound, streamID)
	}
	return def, nil
}

// List returns the registered stream ids in sorted order
func (r *MemoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDefinitions reads stream definitions from a JSON or YAML file. The file may hold a
// single definition or a list of them.
func LoadDefinitions(path string) ([]*StreamDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "LoadDefinitions", "read "+path)
	}

	defs, err := ParseDefinitions(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "LoadDefinitions", "parse "+path)
	}
	return defs, nil
}

// ParseDefinitions decodes definitions from data. ext selects the decoder (".json",
// ".yaml", ".yml"); an empty ext sniffs JSON by its first character.
func ParseDefinitions(data []byte, ext string) ([]*StreamDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty stream definition document", errors.ErrInvalidConfig)
	}

	isJSON := strings.EqualFold(ext, ".json") ||
		(ext == "" && (trimmed[0] == '{' || trimmed[0] == '['))

	var defs []*StreamDefinition
	if isJSON {
		if trimmed[0] == '[' {
			err := json.Unmarshal(trimmed, &defs)
			return defs, wrapParse(err)
		}
		var single StreamDefinition
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, wrapParse(err)
		}
		return []*StreamDefinition{&single}, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, wrapParse(err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		err := node.Decode(&defs)
		return defs, wrapParse(err)
	}
	var single StreamDefinition
	if err := node.Decode(&single); err != nil {
		return nil, wrapParse(err)
	}
	return []*StreamDefinition{&single}, nil
}

func wrapParse(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
}
