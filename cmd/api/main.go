package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mailroom-io/mailroom/internal/config"
	"github.com/mailroom-io/mailroom/internal/engine"
	"github.com/mailroom-io/mailroom/internal/events"
	"github.com/mailroom-io/mailroom/internal/handler"
	campaignHandler "github.com/mailroom-io/mailroom/internal/handler/campaign"
	runHandler "github.com/mailroom-io/mailroom/internal/handler/run"
	suppressionHandler "github.com/mailroom-io/mailroom/internal/handler/suppression"
	"github.com/mailroom-io/mailroom/internal/middleware"
	"github.com/mailroom-io/mailroom/internal/ratelimit"
	"github.com/mailroom-io/mailroom/internal/render"
	"github.com/mailroom-io/mailroom/internal/repository/postgres"
	"github.com/mailroom-io/mailroom/internal/router"
	campaignService "github.com/mailroom-io/mailroom/internal/service/campaign"
	suppressionService "github.com/mailroom-io/mailroom/internal/service/suppression"
	"github.com/mailroom-io/mailroom/internal/source"
	"github.com/mailroom-io/mailroom/internal/suppression"
	"github.com/mailroom-io/mailroom/internal/transport"
	"github.com/mailroom-io/mailroom/pkg/logger"
	"github.com/mailroom-io/mailroom/pkg/messaging/redis"
	"github.com/mailroom-io/mailroom/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.New(&logger.Config{Level: level, Console: cfg.Logging.Console})

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

	m := metrics.New("mailroom_api")

	// The API only queues and requeues runs; execution happens on the
	// workers. The engine is still assembled in full so trigger and
	// resume share the worker's state machine.
	index := suppression.NewIndex(suppressionRepo, cfg.Engine.SuppressionCacheTTL)
	resolver := engine.NewResolver(claimRepo, log, m)
	renderer := render.NewStoreRenderer(campaignRepo)
	tr := transport.NewSMTPTransport(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	retry := engine.RetryConfig{
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseDelay:   cfg.Engine.RetryBaseDelay,
		MaxDelay:    cfg.Engine.RetryMaxDelay,
	}
	dispatcher := engine.NewDispatcher(recipientRepo, sendRepo, index, resolver, renderer, tr, retry, log, m)
	builder := engine.NewAudienceBuilder(
		source.NewPostgresSource(db, cfg.Engine.SegmentQueryTimeout, 0),
		recipientRepo, log, m,
	)
	orchestrator := engine.NewOrchestrator(
		campaignRepo, runRepo, recipientRepo, builder, dispatcher,
		ratelimit.NewLocalRegistry(0),
		engine.Config{
			Concurrency:          cfg.Engine.WorkerConcurrency,
			DefaultRatePerSecond: cfg.Engine.DefaultRatePerSec,
			Retry:                retry,
		},
		log, m,
	)

	campaignSvc := campaignService.NewService(
		orchestrator, runRepo, recipientRepo,
		events.NewControlPublisher(broker),
	)
	suppressionSvc := suppressionService.NewService(suppressionRepo)

	h := handler.NewHandler(db)
	r := router.NewRouter(
		campaignHandler.NewHandler(campaignSvc),
		runHandler.NewHandler(campaignSvc),
		suppressionHandler.NewHandler(suppressionSvc),
		h,
		router.RouterConfig{
			CORSConfig:    middleware.DefaultCORSConfig(),
			MetricsPrefix: "mailroom_http",
			Timeout:       time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "failed to start server")
		}
	}()
	log.Info("api started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}
