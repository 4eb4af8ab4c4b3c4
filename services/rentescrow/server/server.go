package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rentescrow/core/events"
	"rentescrow/gateway/middleware"
	"rentescrow/native/bank"
	"rentescrow/native/rentescrow"
	"rentescrow/native/reputation"
	"rentescrow/observability/metrics"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	ServiceName string
	Registry    *rentescrow.Registry
	Ledger      *bank.Ledger
	Reputation  *reputation.Service
	Recorder    *events.Recorder
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
	LogRequests bool
	Logger      *slog.Logger
	Metrics     *metrics.RentEscrowMetrics
	// Registerer and Gatherer back the HTTP collectors and /metrics. A
	// private registry is created when both are nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server exposes the escrow registry, the custody ledger and the event feed
// over HTTP.
type Server struct {
	registry   *rentescrow.Registry
	ledger     *bank.Ledger
	reputation *reputation.Service
	recorder   *events.Recorder
	logger     *slog.Logger
	metrics    *metrics.RentEscrowMetrics

	router http.Handler
}

// New constructs the HTTP router with authentication, rate limiting and
// request instrumentation.
func New(cfg Config) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rentescrowd"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.RentEscrow()
	}
	if cfg.Registerer == nil && cfg.Gatherer == nil {
		registry := prometheus.NewRegistry()
		cfg.Registerer = registry
		cfg.Gatherer = registry
	}
	if cfg.Recorder == nil {
		cfg.Recorder = events.NewRecorder(0)
	}
	srv := &Server{
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		reputation: cfg.Reputation,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger.With("component", "server"),
		metrics:    cfg.Metrics,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.ServiceName,
		MetricsPrefix: "rentescrowd",
		LogRequests:   cfg.LogRequests,
	}, cfg.Registerer, s.logger)
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obs.Middleware)

	r.Get("/healthz", s.Health)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Use(auth.Middleware)

		api.Post("/escrows", s.CreateEscrow)
		api.Get("/escrows", s.ListEscrows)
		api.Route("/escrows/{id}", func(escrow chi.Router) {
			escrow.Get("/", s.GetEscrow)
			escrow.Post("/rent", s.Rent)
			escrow.Post("/payments", s.PayRent)
			escrow.Post("/end", s.EndLease)
			escrow.Post("/cancel", s.CancelLease)
			escrow.Post("/score", s.Score)
		})
		api.Get("/accounts/{address}", s.GetAccount)
		api.Post("/attestations", s.RecordAttestation)
		api.Get("/events", s.ListEvents)
		api.Get("/events/stream", s.StreamEvents)
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publishState() {
	if s.registry == nil {
		return
	}
	stats := s.registry.Stats()
	s.metrics.SetRegistryState(stats.Live, stats.Leased, &stats.CustodyAmount)
}
