package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/reindervandervoort/cad-pipeline/api/rest/routes"
	"github.com/reindervandervoort/cad-pipeline/config"
	"github.com/reindervandervoort/cad-pipeline/core/executor"
	"github.com/reindervandervoort/cad-pipeline/core/notify"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/sandbox"
	"github.com/reindervandervoort/cad-pipeline/core/scheduler"
	"github.com/reindervandervoort/cad-pipeline/core/screenshot"
	"github.com/reindervandervoort/cad-pipeline/core/source"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/providers/aws"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue and status store: durable when a database is configured,
	// in-memory for single-binary local deployments.
	var (
		jobQueue    queue.Queue
		statusStore status.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := status.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		log.Println("Database connected successfully")

		jobQueue = queue.NewPostgresQueue(db, cfg.QueueVisibility, cfg.MaxDeliveries)
		statusStore = status.NewPostgresStore(db)
	} else {
		log.Println("No DATABASE_URL set, using in-memory queue and status store")
		jobQueue = queue.NewMemoryQueue(cfg.QueueVisibility, cfg.MaxDeliveries)
		statusStore = status.NewMemoryStore()
	}

	// Artifact store: S3 when a bucket is configured.
	var artifacts storage.Store
	if cfg.ArtifactBucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.AWSRegion, cfg.ArtifactBucket, cfg.CDNBaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize S3 store: %v", err)
		}
		artifacts = s3Store
	} else {
		artifacts = storage.NewLocalStore(cfg.ArtifactDir, cfg.CDNBaseURL)
	}

	notifier := notify.NewNotifier()
	for _, url := range cfg.WebhookURLs {
		notifier.Subscribe(notify.NewWebhookSubscriber(url))
	}

	exec := executor.New(
		statusStore,
		source.NewFetcher(cfg.WorkDir),
		sandbox.NewFreeCADEngine(cfg.FreeCADBin, cfg.WorkDir),
		artifacts,
		notifier,
	)
	exec.ExecTimeout = cfg.ExecTimeout
	if cfg.ViewerURL != "" {
		capturer := screenshot.NewCapturer(cfg.ViewerURL)
		defer capturer.Close()
		exec.Shots = capturer
	}

	// Fleet mode: remote hosts drain the queue, the server only sizes
	// the fleet. Local mode: an in-process pool runs the jobs.
	var pool *scheduler.Pool
	if cfg.WorkerAMI != "" {
		awsClient, err := aws.NewClient(ctx, aws.HostConfig{
			Region:       cfg.AWSRegion,
			AMI:          cfg.WorkerAMI,
			InstanceType: cfg.WorkerInstance,
			SubnetID:     cfg.WorkerSubnetID,
			WorkerEnv: map[string]string{
				"DATABASE_URL":    cfg.DatabaseURL,
				"ARTIFACT_BUCKET": cfg.ArtifactBucket,
				"CDN_BASE_URL":    cfg.CDNBaseURL,
			},
		})
		if err != nil {
			log.Fatalf("Failed to initialize AWS client: %v", err)
		}

		fleet := scheduler.NewFleetScaler(jobQueue, awsClient,
			cfg.PoolMin, cfg.FleetMax, 2, cfg.IdleTimeout)
		go fleet.Start(ctx)
		log.Printf("Fleet mode: scaling EC2 worker hosts between %d and %d", cfg.PoolMin, cfg.FleetMax)
	} else {
		pool = scheduler.NewPool(scheduler.NoopProvisioner{}, cfg.PoolMin, cfg.PoolMax, cfg.IdleTimeout)
		go pool.Start(ctx)

		sched := scheduler.New(jobQueue, pool, exec, statusStore)
		sched.MaxDeliveries = cfg.MaxDeliveries
		go sched.Start(ctx)
		log.Printf("Local mode: worker pool between %d and %d workers", cfg.PoolMin, cfg.PoolMax)
	}

	r := mux.NewRouter()
	routes.SetupRoutes(r, jobQueue, statusStore, artifacts, pool)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
