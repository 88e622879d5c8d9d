package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb"
	"github.com/jordnlvr/hybridkb/internal/domain"
)

// maxBodyBytes caps the search request body.
const maxBodyBytes = 1 << 20

type errorCode string

const (
	codeBadRequest          errorCode = "bad_request"
	codeUnauthorized        errorCode = "unauthorized"
	codeValidationFailed    errorCode = "validation_failed"
	codeQuotaExceeded       errorCode = "embedding_quota_exceeded"
	codeProviderError       errorCode = "embedding_provider_error"
	codeProviderUnavailable errorCode = "provider_unavailable"
	codeTimeout             errorCode = "timeout"
	codeInternal            errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type searchResponse struct {
	Results []hybridkb.Result `json:"results"`
}

type usageResponse struct {
	Providers []hybridkb.UsageReport `json:"providers"`
}

// engine is the consumer interface over the retrieval facade (ISP).
type engine interface {
	Search(ctx context.Context, q hybridkb.Query) ([]hybridkb.Result, error)
	Stats(ctx context.Context) hybridkb.Stats
	Health(ctx context.Context) hybridkb.HealthReport
	Usage(ctx context.Context, period string) []hybridkb.UsageReport
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the engine over HTTP.
type Server struct {
	engine        engine
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(e engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: e, logger: logger}
	s.errorHandlers = []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, codeQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrProviderUnavailable, http.StatusServiceUnavailable, codeProviderUnavailable),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/search", s.Search)
	r.Get("/stats", s.Stats)
	r.Get("/usage", s.Usage)
	r.Get("/healthz", s.Health)
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var q hybridkb.Query
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	results, err := s.engine.Search(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats(r.Context()))
}

// Usage handles GET /usage?period=day|month.
func (s *Server) Usage(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	switch period {
	case "":
		period = "month"
	case "day", "month":
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "period must be day or month")
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{Providers: s.engine.Usage(r.Context(), period)})
}

// Health handles GET /healthz. Degraded still answers 200: the lexical branch serves.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Health(r.Context())
	status := http.StatusOK
	if report.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client sees the sentinel text only, never the wrapped details.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// validationHandler echoes the full message: it describes the caller's own input.
func validationHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrValidation) {
		return false
	}
	writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.With(zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("Request failed", zap.Error(err))
			return
		}
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
