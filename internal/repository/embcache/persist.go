package embcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
)

// ErrNoSnapshot signals that nothing has been saved yet.
var ErrNoSnapshot = errors.New("no cache snapshot")

// Persister stores one serialized snapshot, overwriting the previous one.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Name() string
}

// FilePersister keeps the snapshot in a local file. Writes go to a temp file
// in the same directory and are renamed over the target.
type FilePersister struct {
	path string
}

// NewFilePersister creates a file persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Name implements Persister.
func (p *FilePersister) Name() string { return "file" }

// Load implements Persister.
func (p *FilePersister) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	return data, nil
}

// Save implements Persister.
func (p *FilePersister) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context error
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("rename to %s: %w", p.path, err)
	}
	return nil
}

// kvStore is the consumer interface for the Redis-backed persister (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// DefaultKVKey is where KVPersister keeps the snapshot.
var DefaultKVKey = domain.KeyPrefix + "query_cache"

// KVPersister keeps the snapshot under a single key of the shared store.
type KVPersister struct {
	store kvStore
	key   string
}

// NewKVPersister creates a store-backed persister. Empty key means DefaultKVKey.
func NewKVPersister(s kvStore, key string) *KVPersister {
	if key == "" {
		key = DefaultKVKey
	}
	return &KVPersister{store: s, key: key}
}

// Name implements Persister.
func (p *KVPersister) Name() string { return "redis" }

// Load implements Persister.
func (p *KVPersister) Load(ctx context.Context) ([]byte, error) {
	data, err := p.store.Get(ctx, p.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("get %s: %w", p.key, err)
	}
	return data, nil
}

// Save implements Persister.
func (p *KVPersister) Save(ctx context.Context, data []byte) error {
	if err := p.store.Set(ctx, p.key, data); err != nil {
		return fmt.Errorf("set %s: %w", p.key, err)
	}
	return nil
}
