package embcache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

var badgerSnapshotKey = []byte("query_cache/snapshot")

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.logger.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.logger.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.logger.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.logger.Debugf(msg, args...) }

// BadgerPersister keeps the snapshot in an embedded badger database.
type BadgerPersister struct {
	db *badger.DB
}

// OpenBadgerPersister opens (or creates) a badger directory. An empty dir opens
// an in-memory database.
func OpenBadgerPersister(dir string, logger *zap.Logger) (*BadgerPersister, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerPersister{db: db}, nil
}

// Name implements Persister.
func (p *BadgerPersister) Name() string { return "badger" }

// Load implements Persister.
func (p *BadgerPersister) Load(_ context.Context) ([]byte, error) {
	var data []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerSnapshotKey)
		if err != nil {
			return err //nolint:wrapcheck // mapped below
		}
		data, err = item.ValueCopy(nil)
		return err //nolint:wrapcheck // mapped below
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return data, nil
}

// Save implements Persister.
func (p *BadgerPersister) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context error
	}
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerSnapshotKey, data)
	}); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

// Close closes the database.
func (p *BadgerPersister) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
