// Package http serves the ledger and its reports as a JSON API.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"finman/internal/auth"
	"finman/internal/cache"
	"finman/internal/chart"
	"finman/internal/core"
	"finman/internal/ledger"
	"finman/internal/log"
	"finman/internal/middleware/ratelimit"
	"finman/internal/middleware/security"
	"finman/internal/middleware/trace"
	"finman/internal/services"
)

// Deps are the collaborators the server routes requests to. Notifier may
// be nil.
type Deps struct {
	Ledger   ledger.Store
	Auth     *auth.Store
	Reports  *cache.ReportCache
	Renderer *chart.Renderer
	Notifier services.ChangeNotifier
	Logger   *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit sets the per-client request budget per minute.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithCacheCleanup sets how often expired report cache entries are dropped.
func WithCacheCleanup(interval time.Duration) Option {
	return func(s *Server) { s.cleanupInterval = interval }
}

type Server struct {
	http.Server

	ledger   ledger.Store
	auth     *auth.Store
	reports  *cache.ReportCache
	renderer *chart.Renderer
	notifier services.ChangeNotifier
	logger   *log.Logger

	storesMu sync.Mutex
	stores   map[string]*services.RecordStore

	rateLimit       int
	cleanupInterval time.Duration
	limiter         *ratelimit.Limiter
	detector        *security.Detector
	tracer          *trace.Middleware
	cacheManager    *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware and starts the background
// cache cleanup. Call Shutdown to stop it.
func NewServer(addr string, deps Deps, opts ...Option) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	reports := deps.Reports
	if reports == nil {
		reports = cache.NewReportCache(128, 5*time.Minute)
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = chart.NewRenderer("")
	}

	s := &Server{
		ledger:          deps.Ledger,
		auth:            deps.Auth,
		reports:         reports,
		renderer:        renderer,
		notifier:        deps.Notifier,
		logger:          logger.WithComponent(log.ComponentHTTP),
		stores:          make(map[string]*services.RecordStore),
		rateLimit:       ratelimit.DefaultConfig().RequestsPerMinute,
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.detector = security.NewDetector()
	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: s.rateLimit})
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)
	s.cacheManager = cache.NewManager(logger)
	s.cacheManager.Register(s.reports)
	s.cacheManager.StartCleanup(s.cleanupInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /api/v1/register", s.handleRegister)
	mux.HandleFunc("GET /api/v1/records", s.requireUser(s.handleListRecords))
	mux.HandleFunc("POST /api/v1/records", s.requireUser(s.handleAddRecord))
	mux.HandleFunc("PATCH /api/v1/records/{index}", s.requireUser(s.handleUpdateRecord))
	mux.HandleFunc("DELETE /api/v1/records/{index}", s.requireUser(s.handleDeleteRecord))
	mux.HandleFunc("GET /api/v1/report", s.requireUser(s.handleReport))
	mux.HandleFunc("GET /api/v1/report/charts/{file}", s.requireUser(s.handleChart))

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP)(handler)
	handler = s.detector.Middleware(true)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// recordStore returns the open store for user, opening it on first use.
func (s *Server) recordStore(ctx context.Context, user string) (*services.RecordStore, error) {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	if rs, ok := s.stores[user]; ok {
		return rs, nil
	}
	rs, err := services.OpenRecordStore(ctx, s.ledger, user,
		services.WithNotifier(invalidatingNotifier{reports: s.reports, next: s.notifier}),
		services.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.stores[user] = rs
	return rs, nil
}

// invalidatingNotifier drops the user's cached report before forwarding
// the change.
type invalidatingNotifier struct {
	reports *cache.ReportCache
	next    services.ChangeNotifier
}

func (n invalidatingNotifier) LedgerChanged(ctx context.Context, change core.LedgerChange) error {
	n.reports.Invalidate(change.User)
	if n.next == nil {
		return nil
	}
	return n.next.LedgerChanged(ctx, change)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady checks that the ledger backend answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if lister, ok := s.ledger.(ledger.UserLister); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := lister.Users(ctx); err != nil {
			log.FromContext(r.Context()).LogError(r.Context(), "Readiness check failed", err, log.OpList, nil)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var errNotFound = errors.New("not found")
