package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure. Search still answers from the lexical branch.
	Degraded Status = "degraded"
	// Unhealthy indicates no search branch can serve queries.
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

// Check names.
const (
	CheckVectorStore = "vector_store"
	CheckEmbedding   = "embedding"
	CheckLexical     = "lexical_index"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	lexical   LexicalIndex
}

// New creates a Service. db and embedding are nil when the vector branch is disabled.
func New(db DBPinger, embedding EmbeddingChecker, lexical LexicalIndex) *Service {
	return &Service{db: db, embedding: embedding, lexical: lexical}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	vectorOK := s.db != nil || s.embedding != nil
	if s.db != nil {
		checks[CheckVectorStore] = result(s.db.Ping(ctx))
		vectorOK = vectorOK && checks[CheckVectorStore] == CheckOK
	}
	if s.embedding != nil {
		checks[CheckEmbedding] = result(s.embedding.HealthCheck(ctx))
		vectorOK = vectorOK && checks[CheckEmbedding] == CheckOK
	}

	lexicalOK := s.lexical != nil && s.lexical.Built()
	if lexicalOK {
		checks[CheckLexical] = CheckOK
	} else {
		checks[CheckLexical] = CheckError
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !lexicalOK && !vectorOK {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
