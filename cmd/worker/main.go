package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailroom-io/mailroom/internal/config"
	"github.com/mailroom-io/mailroom/internal/engine"
	"github.com/mailroom-io/mailroom/internal/events"
	"github.com/mailroom-io/mailroom/internal/ratelimit"
	"github.com/mailroom-io/mailroom/internal/render"
	"github.com/mailroom-io/mailroom/internal/repository"
	"github.com/mailroom-io/mailroom/internal/repository/postgres"
	"github.com/mailroom-io/mailroom/internal/scheduler"
	"github.com/mailroom-io/mailroom/internal/source"
	"github.com/mailroom-io/mailroom/internal/suppression"
	"github.com/mailroom-io/mailroom/internal/transport"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/messaging/redis"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

// workerEnv holds per-instance overrides that differ between worker
// replicas sharing one config file.
type workerEnv struct {
	ID           string        `envconfig:"ID"`
	HealthPort   int           `envconfig:"HEALTH_PORT" default:"9090"`
	ClaimBatch   int           `envconfig:"CLAIM_BATCH"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL"`
}

const claimSweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var env workerEnv
	if err := envconfig.Process("MAILROOM_WORKER", &env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read worker environment: %v\n", err)
		os.Exit(1)
	}
	if env.ID == "" {
		env.ID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if env.ClaimBatch <= 0 {
		env.ClaimBatch = cfg.Engine.RunClaimBatch
	}
	if env.PollInterval <= 0 {
		env.PollInterval = cfg.Engine.PollInterval
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.New(&logger.Config{Level: level, Console: cfg.Logging.Console}).
		WithFields(map[string]interface{}{"worker_id": env.ID})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(base)
	runRepo := postgres.NewRunRepository(base)
	recipientRepo := postgres.NewRecipientRepository(base)
	sendRepo := postgres.NewSendRepository(base)
	suppressionRepo := postgres.NewSuppressionRepository(base)
	claimRepo := postgres.NewClaimRepository(base)

	broker, err := redis.NewBroker(redis.Config{
		URL: cfg.Redis.URL(),
	}, log)
	if err != nil {
		log.Fatal(err, "failed to connect to Redis")
	}
	defer broker.Close()

	m := metrics.New("mailroom")

	var limiters ratelimit.Registry
	if cfg.Engine.DistributedRateLimit {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		limiters = ratelimit.NewRedisRegistry(client, 0)
	} else {
		limiters = ratelimit.NewLocalRegistry(0)
	}

	var tr transport.Transport = transport.NewSMTPTransport(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	var simulator *events.Simulator
	if cfg.Demo.Enabled {
		workspaceID, err := uuid.Parse(cfg.Demo.WorkspaceID)
		if err != nil {
			log.Fatal(err, "demo mode requires a valid workspace id")
		}
		simulator = events.NewSimulator(tr, broker, workspaceID, log)
		tr = simulator
	}

	index := suppression.NewIndex(suppressionRepo, cfg.Engine.SuppressionCacheTTL)
	resolver := engine.NewResolver(claimRepo, log, m)
	renderer := render.NewStoreRenderer(campaignRepo)
	retry := engine.RetryConfig{
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseDelay:   cfg.Engine.RetryBaseDelay,
		MaxDelay:    cfg.Engine.RetryMaxDelay,
	}
	dispatcher := engine.NewDispatcher(recipientRepo, sendRepo, index, resolver, renderer, tr, retry, log, m)

	audienceSrc := source.NewPostgresSource(db, cfg.Engine.SegmentQueryTimeout, 0)
	builder := engine.NewAudienceBuilder(audienceSrc, recipientRepo, log, m)

	orchestrator := engine.NewOrchestrator(
		campaignRepo, runRepo, recipientRepo, builder, dispatcher, limiters,
		engine.Config{
			Concurrency:          cfg.Engine.WorkerConcurrency,
			DefaultRatePerSecond: cfg.Engine.DefaultRatePerSec,
			Retry:                retry,
		},
		log, m,
	)

	processor := events.NewProcessor(broker, sendRepo, suppressionRepo, log, m)
	control := events.NewControlListener(broker, orchestrator, log)
	sched := scheduler.New(campaignRepo, runRepo, orchestrator, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := processor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := control.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return claimLoop(gctx, orchestrator, runRepo, env, log)
	})

	g.Go(func() error {
		ticker := time.NewTicker(claimSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				resolver.Sweep(gctx)
			}
		}
	})

	g.Go(func() error {
		return serveHealth(gctx, env.HealthPort, log)
	})

	log.Info("worker started", "health_port", env.HealthPort)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err, "worker exited")
	}
	if simulator != nil {
		simulator.Drain()
	}
	log.Info("worker stopped")
}

// claimLoop polls for queued runs and executes each claimed run on its
// own goroutine. A run interrupted by shutdown lands in PAUSED and a
// later claim or an explicit resume picks it back up.
func claimLoop(ctx context.Context, orchestrator *engine.Orchestrator, runs repository.RunRepository, env workerEnv, log *logger.Logger) error {
	ticker := time.NewTicker(env.PollInterval)
	defer ticker.Stop()

	var inflight errgroup.Group
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return nil
		case <-ticker.C:
			claimed, err := runs.ClaimQueued(ctx, env.ClaimBatch)
			if err != nil {
				log.Error(err, "failed to claim runs")
				continue
			}
			for _, run := range claimed {
				run := run
				inflight.Go(func() error {
					if err := orchestrator.Execute(ctx, run); err != nil {
						log.Error(err, "run execution failed", "run_id", run.ID.String())
					}
					return nil
				})
			}
		}
	}
}

func serveHealth(ctx context.Context, port int, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "health server shutdown failed")
		}
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
