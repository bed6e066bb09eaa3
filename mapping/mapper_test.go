package mapping

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/eventpublisher/errors"
)

type MapperSuite struct {
	suite.Suite
	ctx      context.Context
	resolver MapResolver
}

func (s *MapperSuite) SetupTest() {
	s.ctx = context.Background()
	s.resolver = MapResolver{
		"people/v1.json": `{"who":{{name}}}`,
		"people/bad.json": `{"who":{{nickname}}}`,
	}
}

func (s *MapperSuite) TestInline() {
	m, err := NewMapper(s.ctx, OutputMapping{Inline: `{"n":{{name}}, "a":{{age}}}`}, personStream(), nil)
	s.Require().NoError(err)

	s.True(m.Custom())
	s.Equal("inline", m.Source())
	s.Equal("people:1.0.0", m.StreamID())
	s.NotEmpty(m.ID())
	s.False(m.ActivatedAt().IsZero())
	s.Equal(2, m.Positions().Width())

	out, err := m.Render([]any{"Alice", 30})
	s.Require().NoError(err)
	s.Equal(`{"n":"Alice", "a":30}`, out)
}

func (s *MapperSuite) TestRegistry() {
	m, err := NewMapper(s.ctx, OutputMapping{Registry: "people/v1.json"}, personStream(), s.resolver)
	s.Require().NoError(err)
	s.Equal("people/v1.json", m.Source())

	out, err := m.Render([]any{"Bob", 41})
	s.Require().NoError(err)
	s.Equal(`{"who":"Bob"}`, out)
}

func (s *MapperSuite) TestDefault() {
	m, err := NewMapper(s.ctx, OutputMapping{CustomMappingEnabled: Bool(false)}, personStream(), nil)
	s.Require().NoError(err)

	s.False(m.Custom())
	s.Equal("default", m.Source())
	s.Equal(GenerateDefault(personStream()), m.Template().Raw())

	out, err := m.Render([]any{"Carol", 25})
	s.Require().NoError(err)
	s.Equal(`{"event":{"payloadData":{"name":"Carol","age":25}}}`, out)
}

func (s *MapperSuite) TestActivationErrors() {
	tests := []struct {
		name    string
		mapping OutputMapping
		check   func(error)
	}{
		{"malformed", OutputMapping{Inline: `{"n":{{name}`}, func(err error) {
			var target *MalformedTemplateError
			s.True(stderrors.As(err, &target))
		}},
		{"unknown property", OutputMapping{Registry: "people/bad.json"}, func(err error) {
			var target *SchemaValidationError
			s.Require().True(stderrors.As(err, &target))
			s.Equal("nickname", target.Property)
			s.Equal("people:1.0.0", target.StreamID)
		}},
		{"missing source", OutputMapping{}, func(err error) {
			var target *ConfigurationError
			s.True(stderrors.As(err, &target))
		}},
		{"missing resource", OutputMapping{Registry: "people/v2.json"}, func(err error) {
			s.ErrorIs(err, errors.ErrConfigNotFound)
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			m, err := NewMapper(s.ctx, tt.mapping, personStream(), s.resolver)
			s.Nil(m)
			s.Require().Error(err)
			s.True(errors.IsInvalid(err), "activation errors are not retryable: %v", err)
			tt.check(err)
		})
	}

	_, err := NewMapper(s.ctx, OutputMapping{Inline: "x"}, nil, nil)
	s.Error(err)
}

func (s *MapperSuite) TestAppendRender() {
	m, err := NewMapper(s.ctx, OutputMapping{Inline: `[{{name}},{{age}}]`}, personStream(), nil)
	s.Require().NoError(err)

	buf := []byte("prefix:")
	buf, err = m.AppendRender(buf, []any{"x", 1})
	s.Require().NoError(err)
	s.Equal(`prefix:["x",1]`, string(buf))

	out, err := m.AppendRender([]byte("keep"), []any{"short"})
	s.Error(err)
	s.Equal("keep", string(out))

	rendered, err := m.Render(nil)
	s.Require().NoError(err)
	s.Equal(`[null,null]`, rendered)
}

func (s *MapperSuite) TestActive_FailClosed() {
	var active Active

	_, err := active.Render([]any{"a", 1})
	s.ErrorIs(err, errors.ErrNotStarted)
	s.Nil(active.Load())

	first, err := active.Activate(s.ctx, OutputMapping{Inline: `{{name}}`}, personStream(), nil)
	s.Require().NoError(err)
	s.Same(first, active.Load())

	kept, err := active.Activate(s.ctx, OutputMapping{Inline: `{{nickname}}`}, personStream(), nil)
	s.Require().Error(err)
	s.Same(first, kept)
	s.Same(first, active.Load())

	out, err := active.Render([]any{"still-first", 1})
	s.Require().NoError(err)
	s.Equal(`"still-first"`, out)

	second, err := active.Activate(s.ctx, OutputMapping{Inline: `{{age}}`}, personStream(), nil)
	s.Require().NoError(err)
	s.NotEqual(first.ID(), second.ID())

	out, err = active.Render([]any{"x", 9})
	s.Require().NoError(err)
	s.Equal("9", out)

	prev := active.Swap(first)
	s.Same(second, prev)
}

func TestMapperSuite(t *testing.T) {
	suite.Run(t, new(MapperSuite))
}

func TestActive_ConcurrentSwap(t *testing.T) {
	ctx := context.Background()
	var active Active

	a, err := NewMapper(ctx, OutputMapping{Inline: `A{{name}}{{age}}`}, personStream(), nil)
	require.NoError(t, err)
	b, err := NewMapper(ctx, OutputMapping{Inline: `B{{age}}{{name}}`}, personStream(), nil)
	require.NoError(t, err)
	active.Swap(a)

	event := []any{"n", 1}
	valid := map[string]bool{`A"n"1`: true, `B1"n"`: true}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				out, err := active.Render(event)
				if err != nil || !valid[out] {
					errs <- fmt.Errorf("unexpected render %q: %v", out, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			active.Swap(b)
		} else {
			active.Swap(a)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
