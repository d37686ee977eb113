package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/config"
	"github.com/Tyrowin/presencehub/internal/store"
	"github.com/Tyrowin/presencehub/internal/users"
)

// Options are the collaborators of a Server.
type Options struct {
	Config  config.Config
	Logger  *zap.Logger
	Tokens  *auth.Service
	Backend store.Backend
	Users   users.Store
	// Registry receives the hub metrics; a fresh registry is created when nil.
	Registry *prometheus.Registry
}

// Server wires the hub, the upgrade gate and the account handlers.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	hub      *Hub
	upgrade  *UpgradeAuthenticator
	accounts *accountHandlers
	registry *prometheus.Registry
	metrics  *hubMetrics
}

// New builds a Server. Call Hub().Run to start the liveness sweep.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics := newHubMetrics(registry)

	cfg := config.Sanitize(opts.Config)
	eph := store.NewEphemeral(opts.Backend, logger, store.WithErrorHook(metrics.recordStoreError))
	hub := NewHub(HubConfig{
		SweepInterval:  cfg.SweepInterval,
		HistoryCap:     cfg.HistoryCap,
		MaxMessageSize: cfg.MaxMessageSize,
		RateBurst:      cfg.RateLimitBurst,
		RateInterval:   cfg.RateLimitRefillInterval,
	}, eph, opts.Tokens, logger, metrics)

	return &Server{
		cfg:      cfg,
		log:      logger,
		hub:      hub,
		upgrade:  newUpgradeAuthenticator(hub, opts.Tokens, newOriginPolicy(cfg.AllowedOrigins, logger)),
		accounts: newAccountHandlers(opts.Tokens, opts.Users, logger),
		registry: registry,
		metrics:  metrics,
	}
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// Registry returns the Prometheus registry holding the hub metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }
