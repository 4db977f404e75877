package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatfunnel/internal/cache"
	"chatfunnel/internal/config"
	"chatfunnel/internal/constants"
	"chatfunnel/internal/database"
	"chatfunnel/internal/funnel"
	"chatfunnel/internal/identity"
	"chatfunnel/internal/metrics"
	"chatfunnel/internal/queue"
	"chatfunnel/internal/retry"
	"chatfunnel/internal/service"
	"chatfunnel/internal/tracing"
	"chatfunnel/pkg/gateway"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatfunnel %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatfunnel")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database must come up before anything else; retry with backoff
	// so a restarting postgres does not take the whole service down.
	var db *database.Database
	backoff := retry.NewBackoff(retry.FromConfig(cfg.Retry))
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	cacheStore, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheStore.Close()

	gw := gateway.NewClient(cfg.Gateway)
	engine := service.NewHTTPEngine(cfg.Engine, logger)
	m := metrics.New()

	resolver := identity.NewResolver(db, gw, logger)
	machine := funnel.NewMachine(db, logger)
	deliveryQueue := queue.NewService(db, gw, resolver, cfg.Queue, constants.DefaultUnresolvedBacklogLimit, logger)

	sender := service.NewSender(gw, deliveryQueue, cfg.Sender, logger)
	gate := service.NewGate(cacheStore, time.Duration(cfg.Cache.DedupTTLSec)*time.Second, logger)
	pipeline := service.NewPipeline(db, resolver, machine, deliveryQueue, sender, engine, gate, m, logger)

	pool := service.NewWorkerPool(pipeline, cfg.Server.WebhookWorkers, logger)
	pool.Start(ctx)
	defer pool.Stop()

	registerWebhooks(ctx, cfg.Gateway.WebhookURL, gw, db, logger)

	retryMonitor := service.NewRetryMonitor(deliveryQueue, m,
		time.Duration(cfg.Workers.RetryIntervalSec)*time.Second, logger)
	go retryMonitor.Start(ctx)
	defer retryMonitor.Stop()

	identityMonitor := service.NewIdentityMonitor(deliveryQueue,
		time.Duration(cfg.Workers.IdentityIntervalSec)*time.Second, logger)
	go identityMonitor.Start(ctx)
	defer identityMonitor.Stop()

	reengagementMonitor := service.NewReengagementMonitor(db, gw, m,
		time.Duration(cfg.Workers.ReengageIntervalSec)*time.Second,
		time.Duration(cfg.Workers.ReengageStaleMinutes)*time.Minute,
		cfg.Workers.ReengageMaxAttempts, logger)
	go reengagementMonitor.Start(ctx)
	defer reengagementMonitor.Stop()

	healthMonitor := service.NewHealthMonitor(db, gw, cacheStore, deliveryQueue, m,
		time.Duration(cfg.Workers.HealthIntervalSec)*time.Second,
		time.Duration(constants.DefaultHealthStartupDelay)*time.Second,
		time.Duration(cfg.Cache.HealthTTLSec)*time.Second,
		cfg.Gateway.FailureThreshold, logger)
	go healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	server := NewServer(cfg, pool, db, cacheStore, m, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// registerWebhooks points every active gateway instance at this service.
// Failures are logged and skipped; an operator can re-run provisioning.
func registerWebhooks(ctx context.Context, webhookURL string, gw gateway.Client, db *database.Database, logger *logrus.Logger) {
	if webhookURL == "" {
		logger.Info("No webhook URL configured, skipping gateway webhook registration")
		return
	}
	admin, ok := gw.(gateway.Admin)
	if !ok {
		return
	}

	accounts, err := db.ListActiveAccounts(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list accounts for webhook registration")
		return
	}

	events := []string{"messages.upsert", "contacts.upsert", "contacts.update"}
	for _, account := range accounts {
		if err := admin.SetWebhook(ctx, account.InstanceName, webhookURL, events); err != nil {
			logger.WithError(err).WithField("instance", account.InstanceName).Warn("Failed to register webhook")
			continue
		}
		logger.WithField("instance", account.InstanceName).Info("Webhook registered")
	}
}
