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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/a2a"
	cfhttp "github.com/bsvalues/TerraBuild-sub001/internal/adapter/http"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/mcp"
	cfnats "github.com/bsvalues/TerraBuild-sub001/internal/adapter/nats"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/natskv"
	cfotel "github.com/bsvalues/TerraBuild-sub001/internal/adapter/otel"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/postgres"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/ristretto"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/tiered"
	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/ws"
	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/logger"
	"github.com/bsvalues/TerraBuild-sub001/internal/middleware"
	"github.com/bsvalues/TerraBuild-sub001/internal/port/cache"
	"github.com/bsvalues/TerraBuild-sub001/internal/resilience"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

var version = "dev"

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agents", cfg.Swarm.Agents,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	tel, err := cfotel.Setup(ctx, cfg.OTel, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	var (
		exports cache.Cache = l1
		tier    *tiered.Cache
	)

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("l2 cache: %w", err)
		}
		tier = tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)
		exports = tier
		slog.Info("nats connected", "url", cfg.NATS.URL, "l2_bucket", cfg.Cache.L2Bucket)
	}

	var (
		pool   *pgxpool.Pool
		store  *postgres.Store
		events *postgres.EventStore
	)
	if cfg.Postgres.DSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		events = postgres.NewEventStore(pool)
		slog.Info("postgres connected, migrations applied")
	}

	// --- Swarm ---

	origins := cfhttp.ParseOrigins(cfg.Server.CORSOrigin)
	var runner *service.Runner
	hub := ws.NewHub(wsOrigins(origins), func() any { return runner.Status() })

	sinks := []service.EventSink{service.BroadcastSink(hub), service.MetricsSink(metrics)}
	if queue != nil {
		br := resilience.NewBreaker("event-relay", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		sinks = append(sinks, service.QueueSink(queue, br))
	}
	if events != nil {
		sinks = append(sinks, service.ArchiveSink(events))
	}

	curveDeps := service.CurveDeps{Exports: exports, ExportTTL: cfg.Cache.L2TTL}
	if store != nil {
		curveDeps.Datasets = store
	}
	runner = service.NewRunner(cfg.Swarm,
		service.AgentFactories(cfg, curveDeps, log),
		service.WithSinks(sinks...),
		service.WithRunnerLogger(log),
	)
	if err := runner.Initialize(ctx); err != nil {
		return fmt.Errorf("swarm: %w", err)
	}

	stopPrune := func() {}
	if events != nil && cfg.Postgres.EventRetention > 0 {
		stopPrune = startEventPruner(ctx, events, cfg.Postgres.EventRetention, cfg.Swarm.EvictInterval)
	}

	stopIngress := func() {}
	if queue != nil {
		stopIngress, err = runner.ListenQueue(ctx, queue)
		if err != nil {
			return fmt.Errorf("task ingress: %w", err)
		}
	}

	// --- HTTP ---

	handlers := cfhttp.NewHandlers(runner)
	if events != nil {
		handlers.Events = events
	}
	a2aHandler := a2a.NewHandler(cfg.A2A.BaseURL, version, runner)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.CORS(origins))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))

	var submit []func(http.Handler) http.Handler
	if cfg.Server.RateLimitRPS > 0 {
		submit = append(submit, middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 0).Handler)
	}
	submit = append(submit, middleware.Idempotency(exports, cfg.Server.IdempotencyTTL))

	cfhttp.MountRoutes(r, handlers, cfhttp.Extras{
		WebSocket: hub.HandleWS,
		Metrics:   tel.MetricsHandler,
		A2A:       a2aHandler.MountRoutes,
		Submit:    submit,
	})

	// Swarm calls block until the task is terminal, bounded by
	// swarm.wait_timeout, so there is no server-wide write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var mcpServer *mcp.Server
	if cfg.MCP.Enabled {
		mcpServer = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "terrabuild-swarm",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, runner)
		if err := mcpServer.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		slog.Info("mcp server started", "addr", cfg.MCP.Addr)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// --- Shutdown ---

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	hub.Close()
	if mcpServer != nil {
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			slog.Error("mcp shutdown", "error", err)
		}
	}
	stopIngress()
	stopPrune()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Error("swarm shutdown", "error", err)
	}
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	st := l1.Stats()
	slog.Info("l1 cache stats", "hits", st.Hits, "misses", st.Misses, "ratio", st.Ratio, "evicted", st.Evicted)
	if tier != nil {
		ts := tier.Stats()
		slog.Info("tiered cache stats", "l1_hits", ts.L1Hits, "l2_hits", ts.L2Hits, "misses", ts.Misses)
	}
	l1.Close()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown", "error", err)
	}

	slog.Info("server stopped")
	return runErr
}

// wsOrigins maps the CORS origins onto the host patterns accepted by the
// WebSocket handshake.
func wsOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// startEventPruner deletes archived events older than retention every
// interval until the returned function is called.
func startEventPruner(ctx context.Context, events *postgres.EventStore, retention, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := events.Prune(ctx, now.Add(-retention))
				if err != nil {
					slog.Warn("event prune failed", "error", err)
				} else if n > 0 {
					slog.Debug("pruned archived events", "count", n)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
