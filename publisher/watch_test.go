package publisher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/mapping"
)

func TestWatchTemplates_ReloadsOnWrite(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "orders"), 0755))
	path := filepath.Join(root, "orders", "v2.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1,"id":{{id}}}`), 0644))

	cfg := inlineConfig("")
	cfg.Mapping = mapping.OutputMapping{Registry: "orders/v2.json"}
	sink := &recordingSink{}
	p, err := New(cfg, orderStream(), sink, Dependencies{Resolver: mapping.FileResolver{Root: root}})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	first := p.Mapper()
	assert.Equal(t, "orders/v2.json", first.Source())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.WatchTemplates(ctx, root) }()

	// The watcher may not be registered yet, so keep rewriting until it reacts
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"v":2,"id":{{id}}}`), 0644)
		return p.Mapper().Template().Raw() == `{"v":2,"id":{{id}}}`
	}, 5*time.Second, 50*time.Millisecond)

	second := p.Mapper()
	assert.NotEqual(t, first.ID(), second.ID())

	// A broken template is rejected and the last good one keeps serving
	require.NoError(t, os.WriteFile(path, []byte(`{"v":3,"id":{{sku}}}`), 0644))
	time.Sleep(4 * reloadDelay)
	assert.Same(t, second, p.Mapper())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchTemplates_InlineReturnsImmediately(t *testing.T) {
	p := startPublisher(t, inlineConfig(`{{id}}`), &recordingSink{})
	assert.NoError(t, p.WatchTemplates(context.Background(), t.TempDir()))
}

func TestWatchTemplates_RejectsEscapingPath(t *testing.T) {
	cfg := inlineConfig("")
	cfg.Mapping = mapping.OutputMapping{Registry: "../outside.json"}
	p, err := New(cfg, orderStream(), &recordingSink{}, Dependencies{})
	require.NoError(t, err)

	assert.Error(t, p.WatchTemplates(context.Background(), t.TempDir()))
}

// startWatching starts a registry publisher on orders/v2.json and a watcher, and
// returns once the watcher has reacted to a write.
func startWatching(t *testing.T, root string) *Publisher {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "orders"), 0755))
	path := filepath.Join(root, "orders", "v2.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1,"id":{{id}}}`), 0644))

	cfg := inlineConfig("")
	cfg.Mapping = mapping.OutputMapping{Registry: "orders/v2.json"}
	p, err := New(cfg, orderStream(), &recordingSink{}, Dependencies{Resolver: mapping.FileResolver{Root: root}})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.WatchTemplates(ctx, root) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"v":2,"id":{{id}}}`), 0644)
		return p.Mapper().Template().Raw() == `{"v":2,"id":{{id}}}`
	}, 5*time.Second, 50*time.Millisecond)
	return p
}

func TestWatchTemplates_FollowsReconfiguredRegistryPath(t *testing.T) {
	root := t.TempDir()
	p := startWatching(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0755))
	moved := filepath.Join(root, "archive", "v3.json")
	require.NoError(t, os.WriteFile(moved, []byte(`{"w":1,"id":{{id}}}`), 0644))
	require.NoError(t, p.Reconfigure(context.Background(), mapping.OutputMapping{Registry: "archive/v3.json"}))
	assert.Equal(t, "archive/v3.json", p.Mapper().Source())

	require.Eventually(t, func() bool {
		_ = os.WriteFile(moved, []byte(`{"w":2,"id":{{id}}}`), 0644)
		return p.Mapper().Template().Raw() == `{"w":2,"id":{{id}}}`
	}, 5*time.Second, 50*time.Millisecond)

	// The old template no longer triggers reloads
	current := p.Mapper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "orders", "v2.json"), []byte(`{"v":9,"id":{{id}}}`), 0644))
	time.Sleep(4 * reloadDelay)
	assert.Same(t, current, p.Mapper())
}

func TestWatchTemplates_PausedForInlineMapping(t *testing.T) {
	root := t.TempDir()
	p := startWatching(t, root)

	require.NoError(t, p.Reconfigure(context.Background(), mapping.OutputMapping{Inline: `{{id}}`}))
	inline := p.Mapper()

	require.NoError(t, os.WriteFile(filepath.Join(root, "orders", "v2.json"), []byte(`{"v":9,"id":{{id}}}`), 0644))
	time.Sleep(4 * reloadDelay)
	assert.Same(t, inline, p.Mapper())
	assert.Equal(t, `{{id}}`, p.MappingConfig().Inline)
}
