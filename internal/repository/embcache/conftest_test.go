package embcache

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/db"
)

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

// memPersister keeps the last saved snapshot in memory.
type memPersister struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	loadErr error
	saveErr error
	// gate, when set, blocks Save until it is closed.
	gate chan struct{}
}

func (p *memPersister) Name() string { return "memory" }

func (p *memPersister) Load(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.data == nil {
		return nil, ErrNoSnapshot
	}
	return p.data, nil
}

func (p *memPersister) Save(_ context.Context, data []byte) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.data = data
	return nil
}

func (p *memPersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func newTestCache(t *testing.T, capacity int, p Persister) *Cache {
	t.Helper()
	c, err := New(Config{Capacity: capacity, Persister: p, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
