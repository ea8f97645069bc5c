package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names used as Report.Checks keys.
const (
	ComponentStore     = "store"
	ComponentEmbedding = "embedding"
)

// Report aggregates health check results.
type Report struct {
	Status    Status
	Checks    map[string]CheckResult
	Documents int
}

// Service coordinates health checks.
type Service struct {
	store     Pinger
	docs      Counter
	embedding EmbeddingChecker
}

// New creates a Service. docs and embedding can be nil.
func New(store Pinger, docs Counter, embedding EmbeddingChecker) *Service {
	return &Service{store: store, docs: docs, embedding: embedding}
}

// Check runs health checks against all components.
// A store failure makes the service unhealthy; an embedding failure only degrades it,
// since the model falls back to zero vectors.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	r := Report{Status: Healthy, Checks: checks}

	if err := s.store.Ping(ctx); err != nil {
		checks[ComponentStore] = CheckError
		r.Status = Unhealthy
	} else {
		checks[ComponentStore] = CheckOK
		if s.docs != nil {
			if n, err := s.docs.Count(ctx); err == nil {
				r.Documents = n
			} else {
				checks[ComponentStore] = CheckError
				r.Status = Unhealthy
			}
		}
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks[ComponentEmbedding] = CheckError
			if r.Status == Healthy {
				r.Status = Degraded
			}
		} else {
			checks[ComponentEmbedding] = CheckOK
		}
	}

	return r
}
