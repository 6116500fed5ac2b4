package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/data/mongo"
	"github.com/paystream-reconciler/internal/data/postgres"
	"github.com/paystream-reconciler/internal/logger"
	"github.com/paystream-reconciler/internal/platform/messaging/producers"
	"github.com/paystream-reconciler/internal/platform/persistence"
	"github.com/paystream-reconciler/internal/reconciler/dispatch"
	"github.com/paystream-reconciler/internal/reconciler/engine"
	"github.com/paystream-reconciler/internal/reconciler/reader"
	"github.com/paystream-reconciler/internal/taskrunner"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciler")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Reconciler",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Task definitions are validated before any infrastructure comes up
	tasks, err := config.LoadTasks(cfg.TasksPath)
	if err != nil {
		log.Error("Failed to load task definitions", "error", err)
		os.Exit(1)
	}
	log.Info("Loaded task definitions", "tasks", len(tasks))

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	batchRepo := postgres.NewBatchRepository(log, postgresDB)
	postingRepo := postgres.NewPostingRepository(log, postgresDB)
	bookedRefRepo := postgres.NewBookedRefRepository(log, postgresDB)
	documentRepo := postgres.NewDocumentRepository(log, postgresDB)
	archiveRepo := mongo.NewArchiveRepository(log, mongoDB.Database())

	// Initialize Kafka producers
	documentProducer, err := producers.NewBatchDocumentProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize document Kafka producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Poller is nil-safe.

	// Initialize the reconciliation engine and task runner
	eng := engine.New(
		postgresDB,
		batchRepo,
		postingRepo,
		bookedRefRepo,
		documentRepo,
		reader.New(reader.DefaultSchema(), log),
		log,
	)

	runner, err := taskrunner.New(eng, &cfg.WorkerPool, log)
	if err != nil {
		log.Error("Failed to initialize task runner", "error", err)
		os.Exit(1)
	}

	// Initialize document dispatcher
	var dlq producers.DeadLetterPublisher
	if dlqProducer != nil {
		dlq = dlqProducer
	}
	poller := dispatch.NewPoller(
		documentRepo,
		archiveRepo,
		documentProducer,
		dlq,
		&cfg.Dispatch,
		log,
	)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start document dispatcher in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(appCtx)
	}()

	// Run all tasks in a goroutine so a shutdown signal can interrupt them
	done := make(chan struct{})
	go func() {
		defer close(done)
		results := runner.RunAll(appCtx, tasks)
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		log.Info("All tasks finished", "tasks", len(results), "failed", failed)

		// Drain what the sealed batches just queued before exiting.
		if err := poller.DispatchPending(appCtx); err != nil {
			log.Error("Final dispatch cycle failed", "error", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for completion or a shutdown signal
	select {
	case <-done:
		log.Info("Reconciliation run complete")
	case <-quit:
		log.Info("Shutdown signal received")
	}

	// Cancel the application context
	cancelAppCtx()

	// Shutdown the worker pool
	runner.Shutdown()

	// Wait for the dispatcher with a timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		log.Warn("Dispatcher did not stop in time")
	}

	// Close external resources
	if err := documentProducer.Close(); err != nil {
		log.Error("Failed to close document producer", "error", err)
	}
	if dlqProducer != nil {
		if err := dlqProducer.Close(); err != nil {
			log.Error("Failed to close DLQ producer", "error", err)
		}
	}
	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Failed to close MongoDB connection", "error", err)
	}
	postgresDB.Close()

	log.Info("Reconciler stopped")
}
