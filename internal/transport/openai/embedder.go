package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/metrics"
)

// Per-request input ceilings of the two remote APIs.
const (
	AzureBatchSize  = 16
	OpenAIBatchSize = 100

	// DefaultMaxInputChars is the hard per-input cutoff applied before submission.
	DefaultMaxInputChars = 8000

	defaultAzureAPIVersion = "2024-02-01"
)

// Embedder is a remote embedding provider speaking the OpenAI embeddings API,
// either against Azure OpenAI deployments or an OpenAI-compatible endpoint.
type Embedder struct {
	client        *openai.Client
	mode          provider.Mode
	model         openai.EmbeddingModel
	dimensions    int
	batchSize     int
	maxInputChars int
	user          string
	available     bool
	logger        *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	Mode    provider.Mode
	APIKey  string
	BaseURL string

	// Azure only.
	Endpoint   string
	Deployment string
	APIVersion string

	Model         string
	Dimensions    int
	BatchSize     int
	MaxInputChars int
	User          string
	// Timeout bounds each HTTP call. Zero keeps the client default.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewEmbedder creates a remote embedding provider. It never fails: a provider
// with missing credentials is built but reports Available() == false.
func NewEmbedder(cfg *Config) *Embedder {
	mode := cfg.Mode
	if mode == "" {
		mode = provider.OpenAI
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		clientCfg openai.ClientConfig
		ceiling   int
		available bool
	)
	switch mode {
	case provider.AzureOpenAI:
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		clientCfg.APIVersion = defaultAzureAPIVersion
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Deployment
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
		ceiling = AzureBatchSize
		available = cfg.APIKey != "" && cfg.Endpoint != "" && cfg.Deployment != ""
	default:
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		ceiling = OpenAIBatchSize
		available = cfg.APIKey != ""
	}

	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	batch := ceiling
	if cfg.BatchSize > 0 && cfg.BatchSize < ceiling {
		batch = cfg.BatchSize
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	model := cfg.Model
	if model == "" && mode == provider.AzureOpenAI {
		model = cfg.Deployment
	}

	return &Embedder{
		client:        openai.NewClientWithConfig(clientCfg),
		mode:          mode,
		model:         openai.EmbeddingModel(model),
		dimensions:    cfg.Dimensions,
		batchSize:     batch,
		maxInputChars: maxChars,
		user:          cfg.User,
		available:     available,
		logger:        logger,
	}
}

// Mode returns the provider mode.
func (e *Embedder) Mode() provider.Mode { return e.mode }

// Dimension returns the configured output dimension.
func (e *Embedder) Dimension() int { return e.dimensions }

// BatchSize returns the effective number of inputs per request.
func (e *Embedder) BatchSize() int { return e.batchSize }

// Available reports whether the provider has the credentials it needs.
func (e *Embedder) Available() bool { return e.available }

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Input larger than the batch
// ceiling is split into consecutive requests; output order matches input order.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if !e.available {
		return domain.BatchEmbeddingResult{}, domain.Configurationf("%s provider has no credentials", e.mode)
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for chunk := range slices.Chunk(texts, e.batchSize) {
		res, err := e.createEmbeddings(ctx, chunk)
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}
	return out, nil
}

func (e *Embedder) createEmbeddings(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = domain.Truncate(t, e.maxInputChars)
	}

	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	name, model := string(e.mode), string(e.model)
	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(name, model, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(name, model, "canceled").Inc()
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding request: %w", ctxErr)
		}
		metrics.EmbeddingErrorsTotal.WithLabelValues(name, model, "api_error").Inc()
		perr := parseAPIError(e.mode, err)
		e.logger.Warn("embedding request failed",
			zap.String("provider", name),
			zap.Int("inputs", len(input)),
			zap.Error(perr),
		)
		return domain.BatchEmbeddingResult{}, perr
	}

	if len(resp.Data) != len(input) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(name, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(name, model, "count_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, &ProviderError{
			Provider: e.mode,
			Detail:   fmt.Sprintf("expected %d embeddings, got %d", len(input), len(resp.Data)),
		}
	}

	data := slices.Clone(resp.Data)
	slices.SortFunc(data, func(a, b openai.Embedding) int { return a.Index - b.Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			metrics.EmbeddingRequestsTotal.WithLabelValues(name, model, "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(name, model, "dimension_mismatch").Inc()
			return domain.BatchEmbeddingResult{}, domain.NewDimensionMismatch(e.dimensions, len(d.Embedding))
		}
		embeddings[i] = d.Embedding
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(name, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(name, model).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(name, model, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(name, model, "total").Add(float64(totalTokens))
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if !e.available {
		return domain.Configurationf("%s provider has no credentials", e.mode)
	}
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", parseAPIError(e.mode, err))
	}
	return nil
}

// ProviderError is a failed call to a remote embedding API.
// StatusCode is zero when no HTTP response was received.
type ProviderError struct {
	Provider   provider.Mode
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: embedding API error %d: %s", e.Provider, e.StatusCode, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: embedding request failed: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("%s: embedding request failed", e.Provider)
}

// Unwrap lets callers match both ErrProviderUnavailable and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrProviderUnavailable}
	}
	return []error{domain.ErrProviderUnavailable, e.Err}
}

// parseAPIError extracts a human-readable error from the API response.
func parseAPIError(mode provider.Mode, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = strings.TrimSpace(string(reqErr.Body))
		}
		return &ProviderError{Provider: mode, StatusCode: reqErr.HTTPStatusCode, Detail: detail, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: mode, StatusCode: apiErr.HTTPStatusCode, Detail: apiErr.Message, Err: err}
	}

	return &ProviderError{Provider: mode, Detail: err.Error(), Err: err}
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
