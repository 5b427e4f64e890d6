package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"enhancement-pipeline/internal/common/config"
	"enhancement-pipeline/internal/common/database"
	"enhancement-pipeline/internal/common/httpx"
	"enhancement-pipeline/internal/common/logger"
	"enhancement-pipeline/internal/common/metrics"
	"enhancement-pipeline/internal/common/observability"
	"enhancement-pipeline/internal/dispatch"
	"enhancement-pipeline/internal/enrichment"
	"enhancement-pipeline/internal/history"
	"enhancement-pipeline/internal/ingress"
	"enhancement-pipeline/internal/job"
	"enhancement-pipeline/internal/notify"
	"enhancement-pipeline/internal/plugin"
	"enhancement-pipeline/internal/plugin/jira"
	"enhancement-pipeline/internal/plugin/servicedeskplus"
	"enhancement-pipeline/internal/queue"
	"enhancement-pipeline/internal/synthesis"
	"enhancement-pipeline/internal/tenant"
	"enhancement-pipeline/internal/webhook"
	"enhancement-pipeline/internal/worker"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting enhancement pipeline",
		zap.String("environment", cfg.App.Environment),
		zap.Int("workers", cfg.Pipeline.Workers),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure clients, each with connection retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()

	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis unavailable", zap.Error(err))
	}
	defer rdb.Close()

	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		zapLog.Fatal("elasticsearch client init failed", zap.Error(err))
	}

	// --- Tenant directory and webhook authentication ---
	cipher, err := tenant.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		zapLog.Fatal("encryption key invalid", zap.Error(err))
	}
	directory := tenant.NewDirectory(pg.DB, cipher, 5*time.Minute, log)
	authenticator := webhook.NewAuthenticator(directory, cfg.Security.GetSignatureWindow(), cfg.Security.GetClockSkew(), log)

	// --- Plugin registry ---
	httpClient := httpx.NewClient(10 * time.Second)
	registry := plugin.NewRegistry()
	for _, p := range []plugin.ToolPlugin{
		servicedeskplus.New(directory, httpClient, log),
		jira.New(directory, httpClient, log),
	} {
		if err := registry.Register(p.ToolType(), p); err != nil {
			zapLog.Fatal("plugin registration failed", zap.Error(err))
		}
	}
	registry.Freeze()

	// --- Queue and record store ---
	q := queue.New(rdb.Client, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.GetBlockTimeout(), cfg.Queue.GetVisibilityTimeout(), log)
	err = retryWithBackoff(func() error {
		return q.EnsureGroup(ctx)
	}, 5, time.Second, zapLog, "consumer group creation")
	if err != nil {
		zapLog.Fatal("queue group init failed", zap.Error(err))
	}
	store := job.NewRecordStore(pg.DB, log)

	// --- Context providers ---
	providers := []enrichment.Provider{
		enrichment.NewHistoryProvider(history.NewEngine(pg.DB, log), cfg.Pipeline.HistoryLimit),
		enrichment.NewKnowledgeProvider(es.Client, cfg.Knowledge.Index, cfg.Knowledge.MaxResults),
		enrichment.NewInventoryProvider(pg.DB),
	}
	if cfg.Monitoring.BaseURL != "" {
		providers = append(providers, enrichment.NewMonitoringProvider(httpClient, cfg.Monitoring.BaseURL, cfg.Monitoring.APIKey))
	}
	orchestrator := enrichment.NewOrchestrator(providers, cfg.Pipeline.GetProviderTimeout(), cfg.Pipeline.GetContextDeadline(), log)

	// --- Synthesis, dispatch, notifications ---
	gateway := synthesis.NewGateway(synthesis.GatewayConfig{
		BaseURL:     cfg.Synthesis.BaseURL,
		APIKey:      cfg.Synthesis.APIKey,
		Timeout:     cfg.Synthesis.GetTimeout(),
		MaxTokens:   cfg.Synthesis.MaxTokens,
		Temperature: cfg.Synthesis.Temperature,
	}, log)
	dispatcher := dispatch.NewDispatcher(registry, cfg.Pipeline.DispatchRetries, log)

	notifier, err := notify.NewNotifier(ctx, notify.Config{
		EmailEnabled:  cfg.Notifications.Email.Enabled,
		SMSEnabled:    cfg.Notifications.SMS.Enabled,
		FromEmail:     cfg.Notifications.Email.FromEmail,
		OperatorEmail: cfg.Notifications.Email.OperatorEmail,
		TopicARN:      cfg.Notifications.SMS.TopicARN,
		AWSRegion:     cfg.Notifications.AWS.Region,
	}, log)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	// --- Worker pool ---
	pool := worker.NewPool(worker.PoolOptions{
		Queue:         q,
		Store:         store,
		Directory:     directory,
		Registry:      registry,
		Orchestrator:  orchestrator,
		Gateway:       gateway,
		Dispatcher:    dispatcher,
		Notifier:      notifier,
		Observability: obs,
		Workers:       cfg.Pipeline.Workers,
		JobTimeout:    cfg.Pipeline.GetJobTimeout(),
		Logger:        log,
	})
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	// --- Queue depth gauge ---
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := q.Depth(ctx); err == nil {
					metrics.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// --- Metrics endpoint ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil {
			zapLog.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// --- Ingress API ---
	server := ingress.NewServer(cfg.Server, authenticator, q, store, log)
	go func() {
		if err := server.Listen(cfg.Server.Address); err != nil {
			zapLog.Error("ingress server stopped", zap.Error(err))
			stop()
		}
	}()

	zapLog.Info("pipeline is running",
		zap.String("address", cfg.Server.Address),
		zap.String("metricsAddress", cfg.Server.MetricsAddress),
	)

	<-ctx.Done()
	zapLog.Info("shutdown signal received")

	if err := server.Shutdown(); err != nil {
		zapLog.Error("ingress shutdown failed", zap.Error(err))
	}

	select {
	case <-poolDone:
	case <-time.After(cfg.Pipeline.GetJobTimeout() + 5*time.Second):
		zapLog.Warn("worker pool did not drain in time")
	}

	zapLog.Info("shutdown complete")
}
