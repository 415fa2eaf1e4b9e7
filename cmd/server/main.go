package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"appview/internal/handler"
	"appview/internal/identity"
	"appview/internal/indexer"
	"appview/internal/origin"
	"appview/internal/pds"
	"appview/internal/platform/config"
	"appview/internal/platform/httpserver"
	"appview/internal/platform/kafka"
	"appview/internal/platform/logger"
	"appview/internal/platform/metrics"
	"appview/internal/platform/middleware"
	"appview/internal/platform/postgres"
	platformredis "appview/internal/platform/redis"
	"appview/internal/reconcile"
	"appview/internal/scheduler"
	"appview/migrations"
	"appview/pkg/platform/circuit"
	"appview/pkg/platform/httputil"
)

// main wires dependencies, serves the sync endpoints and runs the scan scheduler
// until the process is signalled.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("appview exited with error", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	db     *sql.DB
	redis  *platformredis.Client
	kafka  *kgo.Client
	closed []func() error
}

func (i *infra) Close() error {
	var err error
	for n := len(i.closed) - 1; n >= 0; n-- {
		err = multierr.Append(err, i.closed[n]())
	}
	return err
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return in, err
		}
		in.db = db
		in.closed = append(in.closed, db.Close)
		if err := migrations.Apply(ctx, db); err != nil {
			return in, err
		}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory registry and index")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return in, err
	}
	if rc != nil {
		in.redis = rc
		in.closed = append(in.closed, rc.Close)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return in, err
		}
		in.kafka = kc
		in.closed = append(in.closed, func() error { kc.Close(); return nil })
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) (err error) {
	in, err := openInfra(ctx, cfg, log)
	defer func() { err = multierr.Append(err, in.Close()) }()
	if err != nil {
		return err
	}

	clk := clock.New()
	reg := metrics.New()

	// Origin registry.
	var store pds.Store = pds.NewInMemoryStore()
	if in.db != nil {
		store = pds.NewPostgres(in.db)
	}
	registry, err := pds.NewRegistry(store,
		pds.WithClock(clk),
		pds.WithLogger(log.With("component", "pds_registry")),
	)
	if err != nil {
		return err
	}

	// Identity resolution.
	memCache, err := identity.NewMemoryCache(cfg.Identity.CacheSize, clk)
	if err != nil {
		return err
	}
	resolverOpts := []identity.Option{
		identity.WithPLCURL(cfg.Identity.PLCURL),
		identity.WithTTL(cfg.Identity.CacheTTL),
		identity.WithTimeout(cfg.Identity.Timeout),
		identity.WithClock(clk),
		identity.WithCache(memCache),
		identity.WithLogger(log.With("component", "identity")),
		identity.WithMetrics(identity.NewMetrics(reg.Registerer())),
		identity.WithDiscoveryHook(func(ctx context.Context, endpoint string) {
			if err := registry.EnsureKnown(ctx, endpoint); err != nil {
				log.WarnContext(ctx, "record discovered origin", "endpoint", endpoint, "error", err)
			}
		}),
	}
	if in.redis != nil {
		resolverOpts = append(resolverOpts, identity.WithSharedCache(identity.NewRedisCache(in.redis.Client, identity.WithRedisClock(clk))))
	}
	resolver, err := identity.NewResolver(resolverOpts...)
	if err != nil {
		return err
	}

	// Origin access.
	originMetrics := origin.NewMetrics(reg.Registerer())
	breakers := circuit.NewRegistry(
		circuit.WithFailureThreshold(cfg.Origin.BreakerThreshold),
		circuit.WithCooldown(cfg.Origin.BreakerCooldown),
		circuit.WithClock(clk),
	)
	originLog := log.With("component", "origin")
	policy, err := origin.NewResilientPolicy(breakers,
		origin.WithMaxAttempts(cfg.Origin.MaxAttempts),
		origin.WithTimeout(cfg.Origin.RequestTimeout),
		origin.WithPolicyLogger(originLog),
		origin.WithPolicyMetrics(originMetrics),
	)
	if err != nil {
		return err
	}
	blobPolicy, err := origin.NewResilientPolicy(breakers,
		origin.WithMaxAttempts(cfg.Origin.MaxAttempts),
		origin.WithTimeout(cfg.Origin.BlobTimeout),
		origin.WithPolicyLogger(originLog),
		origin.WithPolicyMetrics(originMetrics),
	)
	if err != nil {
		return err
	}
	client, err := origin.NewClient(policy,
		origin.WithBlobPolicy(blobPolicy),
		origin.WithMaxBlobBytes(cfg.Origin.MaxBlobBytes),
		origin.WithRateLimit(cfg.Origin.RateLimit, cfg.Origin.RateBurst),
		origin.WithUserAgent(cfg.Origin.UserAgent),
		origin.WithLogger(originLog),
		origin.WithMetrics(originMetrics),
	)
	if err != nil {
		return err
	}

	// Index adapters.
	var (
		reader interface {
			reconcile.IndexReader
			scheduler.Index
		}
		writer reconcile.IndexWriter
	)
	// Reader and writer always share a backing store; config enforces the pairing.
	if in.db != nil && in.kafka != nil {
		reader = indexer.NewPostgresReader(in.db)
		writer, err = indexer.NewKafkaWriter(in.kafka, cfg.Kafka.Topic, indexer.WithKafkaClock(clk))
		if err != nil {
			return err
		}
	} else {
		mem := indexer.NewMemoryIndex(indexer.WithClock(clk))
		reader, writer = mem, mem
	}

	reconciler, err := reconcile.New(resolver, client, reader, writer,
		reconcile.WithLogger(log.With("component", "reconcile")),
		reconcile.WithMetrics(reconcile.NewMetrics(reg.Registerer())),
	)
	if err != nil {
		return err
	}

	// HTTP surface.
	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer, middleware.Observe(log, middleware.NewMetrics(reg.Registerer())))
	handler.New(reconciler, registry, log.With("component", "handler"),
		handler.WithBlobs(resolver, client),
	).Register(router)
	router.Get("/health", healthHandler(in))
	router.Method(http.MethodGet, "/metrics", reg.Handler())

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting appview", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(scheduler.Config{
			Interval:    cfg.Scheduler.Interval,
			BatchSize:   cfg.Scheduler.BatchSize,
			Concurrency: cfg.Scheduler.Concurrency,
			TaskTimeout: cfg.Scheduler.TaskTimeout,
			Collections: cfg.Scheduler.Collections,
		}, registry, client, reader, reconciler,
			scheduler.WithClock(clk),
			scheduler.WithLogger(log.With("component", "scheduler")),
			scheduler.WithMetrics(scheduler.NewMetrics(reg.Registerer())),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func healthHandler(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var err error
		if in.db != nil {
			err = multierr.Append(err, in.db.PingContext(ctx))
		}
		if in.redis != nil {
			err = multierr.Append(err, in.redis.Health(ctx))
		}
		if err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
