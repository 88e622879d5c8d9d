package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb"
	"github.com/jordnlvr/hybridkb/internal/config"
	logpkg "github.com/jordnlvr/hybridkb/internal/logger"
	"github.com/jordnlvr/hybridkb/internal/metrics"
	"github.com/jordnlvr/hybridkb/internal/source"
	chiTransport "github.com/jordnlvr/hybridkb/internal/transport/chi"
	"github.com/jordnlvr/hybridkb/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hybridkb API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("vector_enabled", cfg.Vector.IsEnabled()),
		zap.String("namespace", cfg.Vector.Namespace),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	ctx := context.Background()
	engine, err := hybridkb.New(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}

	indexDocuments(ctx, engine, cfg.Documents.Path, logger)

	server := chiTransport.NewServer(engine, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.HTTP.APIKeys))
	r.Use(metrics.Middleware("/metrics"))
	server.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	// Persist the query cache after the last request has drained
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error("Error closing engine", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// indexDocuments loads the document file and builds both indexes.
// Failures are logged: the server still starts and serves what it has.
func indexDocuments(ctx context.Context, engine *hybridkb.Engine, path string, logger *zap.Logger) {
	if path == "" {
		logger.Warn("No documents path configured, index stays empty")
		return
	}

	docs, err := source.LoadFile(path)
	if err != nil {
		if len(docs) == 0 {
			logger.Error("Failed to load documents", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Warn("Some documents were skipped", zap.String("path", path), zap.Error(err))
	}

	start := time.Now()
	report, err := engine.Index(ctx, docs)
	fields := []zap.Field{
		zap.Int("documents", report.Documents),
		zap.Int("terms", report.Terms),
		zap.Bool("vector_enabled", report.VectorEnabled),
		zap.Int("vector_indexed", report.VectorIndexed),
		zap.Int("vector_skipped", report.VectorSkipped),
		zap.Int("vector_pruned", report.VectorPruned),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		logger.Error("Vector indexing failed, lexical search only", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("Documents indexed", fields...)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			ctx := logpkg.With(logpkg.ContextWithLogger(r.Context(), logger), zap.String("request_id", requestID))
			reqLogger := logpkg.FromContext(ctx)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
