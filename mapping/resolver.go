package mapping

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/pkg/retry"
)

// Resolver turns a registry resource path into template text.
type Resolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, path string) (string, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// MapResolver serves templates from memory
type MapResolver map[string]string

// Resolve returns the entry for path
func (m MapResolver) Resolve(_ context.Context, path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", fmt.Errorf("%w: mapping resource %s", errors.ErrConfigNotFound, path)
	}
	return text, nil
}

// FileResolver reads templates from files below Root.
type FileResolver struct {
	Root string
}

// Path returns the file a resource path maps to. Paths that leave Root are rejected.
func (r FileResolver) Path(path string) (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", errors.WrapInvalid(err, "FileResolver", "Path", "resolve root")
	}

	full := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "FileResolver", "Path",
			fmt.Sprintf("resource %q is outside %s", path, r.Root))
	}
	return full, nil
}

// Resolve reads the file for path
func (r FileResolver) Resolve(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := r.Path(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return "", errors.WrapInvalid(errors.ErrConfigNotFound, "FileResolver", "Resolve", "read "+path)
		}
		return "", errors.Wrap(err, "FileResolver", "Resolve", "read "+path)
	}
	return string(data), nil
}

// KVResolver reads templates from a JetStream key-value bucket. Resource paths are used
// as keys with '/' replaced by '.'.
type KVResolver struct {
	KV    jetstream.KeyValue
	Retry retry.Config
}

// NewKVResolver creates a resolver over kv with quick retries for transient failures
func NewKVResolver(kv jetstream.KeyValue) *KVResolver {
	return &KVResolver{KV: kv, Retry: retry.Quick()}
}

// Key maps a resource path to a bucket key
func (r *KVResolver) Key(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

// Resolve fetches the current value for path
func (r *KVResolver) Resolve(ctx context.Context, path string) (string, error) {
	if r.KV == nil {
		return "", errors.WrapFatal(errors.ErrNoConnection, "KVResolver", "Resolve", "no bucket")
	}

	key := r.Key(path)
	entry, err := retry.DoWithResult(ctx, r.Retry, func() (jetstream.KeyValueEntry, error) {
		entry, err := r.KV.Get(ctx, key)
		if err == nil {
			return entry, nil
		}
		if stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, retry.NonRetryable(
				errors.WrapInvalid(errors.ErrConfigNotFound, "KVResolver", "Resolve", "get key "+key))
		}
		return nil, errors.WrapTransient(err, "KVResolver", "Resolve", "get key "+key)
	})
	if err != nil {
		return "", err
	}
	return string(entry.Value()), nil
}
