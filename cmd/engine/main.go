// cmd/engine/main.go
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

	"go.uber.org/zap"

	"funding-engine/internal/api"
	"funding-engine/internal/audit"
	awsclients "funding-engine/internal/common/aws"
	"funding-engine/internal/common/camunda"
	"funding-engine/internal/common/config"
	"funding-engine/internal/common/database"
	"funding-engine/internal/common/logger"
	"funding-engine/internal/common/observability"
	"funding-engine/internal/documents"
	"funding-engine/internal/lenders"
	"funding-engine/internal/notify"
	"funding-engine/internal/reconcile"
	"funding-engine/internal/registry"
	"funding-engine/internal/scheduler"
	"funding-engine/internal/store"
	"funding-engine/internal/submission"
	"funding-engine/internal/tasks"
	polllenderapplication "funding-engine/internal/workers/lender/poll-lender-application"
)

const maxBootDelay = 30 * time.Second

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}

		log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
			zap.Error(err),
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Duration("nextRetryIn", delay),
		)
		time.Sleep(delay)
		if delay *= 2; delay > maxBootDelay {
			delay = maxBootDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// pingFunc lets a plain health check stand in for api.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("Failed to load config", zap.Error(err))
	}

	zapLog := logger.NewWithOptions(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New("funding-engine")
	defer obs.Shutdown()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var e error
		zeebe, e = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return e
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("Zeebe unavailable", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected", zap.String("address", cfg.Camunda.BrokerAddress))

	// --- Postgres ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var e error
		pg, e = database.NewPostgres(cfg.Database.Postgres)
		if e != nil {
			return e
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected")

	// --- Redis ---
	var rc *database.RedisClient
	err = retryWithBackoff(func() error {
		var e error
		rc, e = database.NewRedis(cfg.Database.Redis)
		if e != nil {
			return e
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rc.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("Redis unavailable", zap.Error(err))
	}
	defer rc.Close()
	zapLog.Info("Redis connected")

	// --- Async tasks ---
	dispatcher := tasks.NewDispatcher(&tasks.Config{
		Workers:    cfg.Tasks.Workers,
		BufferSize: cfg.Tasks.BufferSize,
	}, log)
	dispatcher.Start()
	go tasks.LogFailures(dispatcher, log)

	// --- Audit trail ---
	var recorder api.EventRecorder
	var auditSink reconcile.Sink = notify.NewNoopSink(log)
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var e error
			es, e = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if e != nil {
				return e
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return es.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("Elasticsearch unavailable, audit trail disabled", zap.Error(err))
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if created, err := es.EnsureIndex(ctx, cfg.Database.Elasticsearch.AuditIndex, audit.IndexMapping); err != nil {
				zapLog.Warn("Audit index check failed", zap.Error(err))
			} else if created {
				zapLog.Info("Audit index created", zap.String("index", cfg.Database.Elasticsearch.AuditIndex))
			}
			cancel()

			indexer := audit.NewIndexer(es.Client, cfg.Database.Elasticsearch.AuditIndex, log)
			recorder = indexer
			auditSink = indexer
			zapLog.Info("Elasticsearch connected", zap.String("index", cfg.Database.Elasticsearch.AuditIndex))
		}
	}

	// --- Notifications ---
	awsCfg := cfg.Integrations.AWS
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bootCancel()

	var statusSink reconcile.Sink = notify.NewNoopSink(log)
	if awsCfg.SNS.Enabled {
		snsClient, err := awsclients.NewSNSClient(bootCtx, awsCfg.Region, awsCfg.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("Failed to create SNS client", zap.Error(err))
		}
		statusSink = notify.NewStatusPublisher(snsClient, log)
	}

	type opsAlerter interface {
		reconcile.AnomalyReporter
		submission.FailureAlerter
	}
	var alerter opsAlerter = notify.NewLogAlerter(log)
	if awsCfg.SES.Enabled {
		sesClient, err := awsclients.NewSESClient(bootCtx, awsCfg.Region, awsCfg.SES.FromEmail)
		if err != nil {
			zapLog.Fatal("Failed to create SES client", zap.Error(err))
		}
		alerter = notify.NewOpsAlerter(sesClient, awsCfg.SES.OpsEmail, dispatcher, log)
	}

	// --- Domain ---
	factory, err := lenders.BuildFactory(cfg.Lenders, obs, log)
	if err != nil {
		zapLog.Fatal("Failed to build lender clients", zap.Error(err))
	}
	st := store.New(pg.GetDB(), log)
	reg := registry.New(&registry.Config{
		CacheTTL: config.GetDuration(cfg.Submission.RegistryTTL),
	}, pg.GetDB(), rc.GetClient(), log)
	docs := documents.NewPostgresProvider(pg.GetDB(), log)

	polls := scheduler.NewPollScheduler(&scheduler.Config{
		MessageName: cfg.Polling.MessageName,
		MessageTTL:  config.GetDuration(cfg.Polling.MessageTTL),
	}, zeebe, dispatcher, log)

	reconciler := reconcile.New(st, factory, log).
		WithListener(reconcile.AsyncListener("audit-transition", dispatcher, auditSink, log)).
		WithListener(reconcile.AsyncListener("status-publish", dispatcher, statusSink, log)).
		WithAnomalyReporter(alerter)

	coordinator := submission.NewCoordinator(submission.ConfigFrom(cfg), submission.Deps{
		Store:     st,
		Registry:  reg,
		Documents: docs,
		Clients:   factory,
		Polls:     polls,
		Queue:     dispatcher,
		Alerter:   alerter,
	}, log)

	// --- Poll worker and sweeper ---
	workerCfg := config.GetWorkerConfig(cfg, polllenderapplication.TaskType)
	var pollWorker interface{ Close() }
	if workerCfg.Enabled {
		pollCfg := polllenderapplication.LoadConfig()
		pollCfg.Timeout = config.GetDuration(workerCfg.Timeout)
		pollCfg.PollInterval = config.GetDuration(cfg.Polling.Interval)
		handler := polllenderapplication.NewHandler(pollCfg, st, factory, reconciler, log)
		pollWorker = camunda.StartWorker(zeebe.GetClient(), polllenderapplication.TaskType, workerCfg, handler.Handle, log)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweeper := scheduler.NewSweeper(&scheduler.SweeperConfig{
		Interval:  config.GetDuration(cfg.Polling.SweepInterval),
		Lease:     config.GetDuration(cfg.Polling.Interval),
		BatchSize: cfg.Polling.BatchSize,
	}, st, polls, log)
	go sweeper.Run(sweepCtx)

	// --- HTTP ---
	router := api.NewRouter(api.RouterConfig{
		WebhookToken:   cfg.Webhooks.BearerToken,
		WebhookMaxBody: cfg.Webhooks.MaxBodySize,
		SubmitTimeout:  config.GetDuration(cfg.Submission.RequestTimeout),
	}, api.RouterDeps{
		Submitter: coordinator,
		Webhook: api.WebhookDeps{
			Reconciler: reconciler,
			Deduper:    api.NewRedisDeduper(rc.GetClient(), config.GetDuration(cfg.Webhooks.DedupeTTL)),
			Recorder:   recorder,
			Queue:      dispatcher,
		},
		Ready: map[string]api.Pinger{
			"postgres": pg,
			"redis":    rc,
			"zeebe":    pingFunc(zeebe.HealthCheck),
		},
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	stopSweep()
	if pollWorker != nil {
		pollWorker.Close()
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Async tasks did not drain", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Funding engine stopped gracefully")
}
