package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasse/internal/log"
	"kasse/internal/middleware/ratelimit"
	"kasse/internal/middleware/security"
	"kasse/internal/middleware/trace"
	"kasse/internal/notify"
	"kasse/internal/services"
)

// Config holds server settings.
type Config struct {
	Addr string

	// SyncInterval is the polling period of event streams.
	SyncInterval time.Duration

	// RequestsPerMinute limits POST requests per client.
	RequestsPerMinute int
}

// ReadyFunc reports whether the backends can serve requests.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	http.Server
	svc      *services.FundService
	notifier notify.Notifier
	ready    ReadyFunc
	interval time.Duration
	validate *validator.Validate
	logger   *log.Logger

	rateLimiter  *ratelimit.Limiter
	shutdownOnce sync.Once
	// closed by Shutdown; http.Server.Shutdown does not cancel handler contexts
	closing chan struct{}
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// notifier may be nil; event streams then rely on polling alone.
func NewServer(cfg Config, svc *services.FundService, notifier notify.Notifier, ready ReadyFunc, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		svc:         svc,
		notifier:    notifier,
		ready:       ready,
		interval:    cfg.SyncInterval,
		validate:    newValidator(),
		logger:      logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute}),
		closing:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/funds", s.handleCreateFund)
	mux.HandleFunc("GET /api/funds/{id}", s.handleGetFund)
	mux.HandleFunc("POST /api/funds/{id}/join", s.handleJoinFund)
	mux.HandleFunc("POST /api/funds/{id}/deposit", s.handleDeposit)
	mux.HandleFunc("POST /api/funds/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("GET /api/funds/{id}/events", s.handleEvents)

	detector := security.NewDetector()
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(detector.ExtractClientIP, logger)
	limit := s.rateLimiter.Middleware(detector.ExtractClientIP, s.handleRateLimited, http.MethodPost)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) })(handler)
	handler = log.Middleware(logger)(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown ends open event streams, stops the rate limiter and gracefully
// shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.closing)
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, try again later", Kind: "rate_limited"})
}
