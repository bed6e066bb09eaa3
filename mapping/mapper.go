package mapping

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/schema"
)

// Mapper is an activated mapping: a compiled template bound to one stream's layout.
// It never changes after NewMapper returns and is safe for concurrent rendering.
type Mapper struct {
	id          string
	streamID    string
	custom      bool
	source      string
	template    *Template
	positions   schema.PositionMap
	indices     []int
	activatedAt time.Time
}

// NewMapper activates cfg for def: resolve template text, compile, validate, bind.
//
// Custom templates are validated against the stream's position map. Generated default
// templates are valid by construction and skip validation. Errors are *ConfigurationError,
// *MalformedTemplateError or *SchemaValidationError.
func NewMapper(ctx context.Context, cfg OutputMapping, def *schema.StreamDefinition, r Resolver) (*Mapper, error) {
	if def == nil {
		return nil, &ConfigurationError{Reason: "no stream definition"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	positions, err := schema.NewPositionMap(def)
	if err != nil {
		return nil, err
	}

	m := &Mapper{
		id:        uuid.NewString(),
		streamID:  def.StreamID(),
		custom:    cfg.IsCustom(),
		positions: positions,
	}

	var raw string
	if m.custom {
		if raw, err = cfg.Text(ctx, r); err != nil {
			return nil, err
		}
		m.source = "inline"
		if cfg.IsRegistry() {
			m.source = cfg.Registry
		}
	} else {
		raw = GenerateDefault(def)
		m.source = "default"
	}

	if m.template, err = Compile(raw); err != nil {
		return nil, err
	}
	if m.custom {
		if err := Validate(m.template, positions, m.streamID); err != nil {
			return nil, err
		}
	}
	if m.indices, err = Bind(m.template, positions); err != nil {
		return nil, err
	}

	m.activatedAt = time.Now()
	return m, nil
}

// ID is the unique activation id of this snapshot
func (m *Mapper) ID() string { return m.id }

// StreamID is the stream the template was validated against
func (m *Mapper) StreamID() string { return m.streamID }

// Custom reports whether the template was user supplied
func (m *Mapper) Custom() bool { return m.custom }

// Source is "inline", "default" or the registry path the template came from
func (m *Mapper) Source() string { return m.source }

// Template returns the compiled template
func (m *Mapper) Template() *Template { return m.template }

// Positions returns the position map the template is bound to
func (m *Mapper) Positions() schema.PositionMap { return m.positions }

// ActivatedAt is when the snapshot was built
func (m *Mapper) ActivatedAt() time.Time { return m.activatedAt }

// Render renders event using the pre-bound placeholder indices
func (m *Mapper) Render(event []any) (string, error) {
	buf, err := m.AppendRender(make([]byte, 0, m.template.literals+16*len(m.indices)), event)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// AppendRender appends the rendering of event to dst. On error the partial output is
// discarded and dst is returned unchanged.
func (m *Mapper) AppendRender(dst []byte, event []any) ([]byte, error) {
	out, err := renderBound(dst, m.template, m.indices, event)
	if err != nil {
		return dst, err
	}
	return out, nil
}

// ErrNotActivated is returned when rendering through an Active with no snapshot
var ErrNotActivated = errors.WrapFatal(errors.ErrNotStarted, "Active", "Render", "no mapping activated")

// Active holds the mapping snapshot currently used for rendering. Replacing it is atomic,
// so every render observes one complete snapshot. The zero value holds no snapshot.
type Active struct {
	current atomic.Pointer[Mapper]
}

// Load returns the current snapshot, or nil
func (a *Active) Load() *Mapper {
	return a.current.Load()
}

// Swap publishes m and returns the previous snapshot
func (a *Active) Swap(m *Mapper) *Mapper {
	return a.current.Swap(m)
}

// Activate builds a new snapshot and publishes it. On any error the previous snapshot
// stays active and is returned alongside the error.
func (a *Active) Activate(ctx context.Context, cfg OutputMapping, def *schema.StreamDefinition, r Resolver) (*Mapper, error) {
	m, err := NewMapper(ctx, cfg, def, r)
	if err != nil {
		return a.current.Load(), err
	}
	a.current.Store(m)
	return m, nil
}

// Render renders event with the current snapshot
func (a *Active) Render(event []any) (string, error) {
	m := a.current.Load()
	if m == nil {
		return "", ErrNotActivated
	}
	return m.Render(event)
}
