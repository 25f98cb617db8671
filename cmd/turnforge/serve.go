package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Strob0t/turnforge/internal/adapter/graphrt"
	cfhttp "github.com/Strob0t/turnforge/internal/adapter/http"
	cfnats "github.com/Strob0t/turnforge/internal/adapter/nats"
	"github.com/Strob0t/turnforge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/turnforge/internal/adapter/otel"
	"github.com/Strob0t/turnforge/internal/adapter/postgres"
	"github.com/Strob0t/turnforge/internal/adapter/ristretto"
	"github.com/Strob0t/turnforge/internal/adapter/tiered"
	"github.com/Strob0t/turnforge/internal/adapter/ws"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/logger"
	"github.com/Strob0t/turnforge/internal/middleware"
	"github.com/Strob0t/turnforge/internal/resilience"
	"github.com/Strob0t/turnforge/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agent_mode", cfg.Agent.Mode,
		"agent_provider", cfg.Agent.Provider,
		"thinking_mode", cfg.Persistence.ThinkingMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	store := postgres.NewStore(pool)

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}()

	seqKV, err := queue.KeyValue(ctx, cfg.Sequence.KVBucket, cfg.Sequence.TTL)
	if err != nil {
		return fmt.Errorf("sequence bucket: %w", err)
	}
	cacheKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("cache bucket: %w", err)
	}

	// Cache (ristretto L1 + NATS KV L2)
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	responses := tiered.New(l1, natskv.New(cacheKV), cfg.Cache.L2TTL)

	// --- Services ---

	clock := event.NewClock()

	seq := service.NewSequenceAllocator(natskv.NewCounter(seqKV), store, cfg.Sequence.TTL)
	seq.SetBreaker(resilience.NewBreaker("sequence", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	seq.SetMetrics(metrics)

	events := service.NewEventStore(store, seq, clock)

	persist := service.NewPersistenceCoordinator(events, store, cfg.Persistence)
	persist.SetMetrics(metrics)

	runtime := graphrt.NewClient(cfg.Agent.RuntimeURL, cfg.Agent.APIKey, cfg.Agent.GraphName)
	runtime.SetBreaker(resilience.NewBreaker("runtime", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	orchestrator := service.NewAgentOrchestrator(runtime, persist, cfg.Agent, clock)
	orchestrator.SetQueue(queue)
	orchestrator.SetMetrics(metrics)

	stopRelay, err := service.NewEventRelay(events, queue).Start(ctx)
	if err != nil {
		return fmt.Errorf("event relay: %w", err)
	}
	defer stopRelay()

	hub := ws.NewHub(originHosts(cfg.Server.CORSOrigin)...)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Orchestrator: orchestrator,
		Events:       events,
		Hub:          hub,
		Checks: map[string]cfhttp.HealthCheck{
			"postgres": store.Ping,
			"nats": func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
			"runtime": runtime.Health,
		},
	}

	r := chi.NewRouter()

	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws", hub.HandleWS)

	cfhttp.MountRoutes(r, handlers, cfhttp.RouteOptions{
		IdempotencyCache: responses,
		IdempotencyTTL:   cfg.Idempotency.TTL,
	})

	addr := ":" + cfg.Server.Port

	// No write timeout: streamed turns run up to the agent timeout.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// originHosts turns the configured CORS origins into WebSocket origin
// patterns, which match hosts rather than full origins.
func originHosts(origins string) []string {
	var hosts []string
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		hosts = append(hosts, o)
	}
	return hosts
}
