package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/a1betting/propcore/internal/alert"
	"github.com/a1betting/propcore/internal/api"
	"github.com/a1betting/propcore/internal/health"
	"github.com/a1betting/propcore/internal/infra/sqlite"
	"github.com/a1betting/propcore/internal/infra/upstream"
	"github.com/a1betting/propcore/internal/ingest"
	"github.com/a1betting/propcore/internal/llm"
	"github.com/a1betting/propcore/internal/models"
)

const shutdownGrace = 10 * time.Second

// scorerWarmup staggers built-in scorer readiness so the ensemble's
// accuracy grows as initialization completes.
const scorerWarmup = 2 * time.Second

// Supervisor owns the process: the store, the ingestion engine, the
// model manager, the explanation service, and the HTTP listener. All
// long-running work is launched as background tasks; the listener is
// accepting before any of them finish.
type Supervisor struct {
	Config    Config
	DB        *sqlite.DB
	Cache     *upstream.Cache
	Engine    *ingest.Engine
	Models    *models.Manager
	Explainer *llm.Service
	Server    *api.Server
	Health    *health.Checker
	Alerts    *alert.Notifier

	listener net.Listener
	port     int
	cancel   context.CancelFunc
}

// New loads configuration and wires a Supervisor.
func New() (*Supervisor, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Supervisor from the given configuration. An
// unreachable store at start is a configuration error.
func NewWithConfig(cfg Config) (*Supervisor, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return nil, configErrorf("create data dir: %v", err)
	}
	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, configErrorf("open store %s: %v", cfg.Store.Path, err)
	}

	fetcher := upstream.NewFetcher(15 * time.Second)
	cache := upstream.NewCache(cfg.CacheTTL())
	governor := upstream.NewGovernor(cfg.MinSpacing(), cfg.BackoffSchedule())

	engine := ingest.New(ingest.Config{
		BaseURL:  cfg.Ingest.BaseURL,
		Interval: cfg.IngestInterval(),
		CacheTTL: cfg.CacheTTL(),
		PerPage:  cfg.Ingest.PerPage,
	}, db, fetcher, cache, governor)

	notifier := alert.NewNotifier(cfg.Alerts.SlackWebhook)
	engine.OnDegraded(func(reason string) {
		notifier.Notify(reason)
	})

	manager := models.NewManager(models.DefaultScorers(scorerWarmup)...)

	client := llm.NewClient(cfg.LLM.URL, llm.DefaultGenerateTimeout)
	explainer := llm.NewService(client, cfg.LLM.ModelPreference)

	server := api.NewServer(db, engine, manager, explainer, cfg.StaleThreshold())
	if cfg.Server.Metrics {
		server.EnableMetrics()
	}

	return &Supervisor{
		Config:    cfg,
		DB:        db,
		Cache:     cache,
		Engine:    engine,
		Models:    manager,
		Explainer: explainer,
		Server:    server,
		Health:    health.NewChecker(db, filepath.Dir(cfg.Store.Path), explainer),
		Alerts:    notifier,
	}, nil
}

// bindListener binds the first free port in [portMin, portMax].
func bindListener(host string, portMin, portMax int) (net.Listener, int, error) {
	for port := portMin; port <= portMax; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port in %d-%d", portMin, portMax)
}

// Port returns the bound listener port, 0 before Serve.
func (s *Supervisor) Port() int { return s.port }

// Serve binds the listener, launches background tasks, and blocks until
// the context is cancelled or a termination signal arrives.
func (s *Supervisor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	ln, port, err := bindListener(s.Config.Server.Host, s.Config.Server.PortMin, s.Config.Server.PortMax)
	if err != nil {
		return err
	}
	s.listener = ln
	s.port = port
	s.Server.SetPort(port)
	log.Info().
		Str("component", "daemon").
		Int("port", port).
		Msg("listener bound")

	if err := s.Engine.Bootstrap(); err != nil {
		log.Warn().Str("component", "daemon").Err(err).Msg("league bootstrap failed")
	}

	// Everything slow runs in the background; the listener is already
	// accepting.
	s.Models.Start(ctx)
	go s.Engine.Run(ctx)
	go s.Engine.RunRetention(ctx, s.Config.RetentionHorizon())
	go s.Cache.Sweep(ctx, s.Config.CacheTTL())
	go s.Health.Run(ctx)
	go s.sweepSessions(ctx)

	httpServer := &http.Server{
		Handler:      s.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			log.Info().Str("component", "daemon").Msg("termination signal")
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("component", "daemon").
		Str("addr", fmt.Sprintf("http://%s:%d", s.Config.Server.Host, port)).
		Bool("metrics", s.Config.Server.Metrics).
		Msg("propcore serving")

	err = httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if closeErr := s.DB.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// sweepSessions drops idle chat sessions on a ticker.
func (s *Supervisor) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Explainer.Sessions.Sweep(time.Now())
		}
	}
}

// Close stops background work and releases resources.
func (s *Supervisor) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}
