package health

import "context"

// DBPinger checks vector store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks the active embedding provider.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// LexicalIndex reports whether the in-memory index has been built.
type LexicalIndex interface {
	Built() bool
}
