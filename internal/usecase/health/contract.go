package health

import "context"

// Pinger checks store backend availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports the number of stored documents.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// EmbeddingChecker checks embedding model availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
