// The worker binary runs on fleet hosts. It polls the shared queue,
// executes jobs one at a time, and exits on a fatal execution error
// so systemd restarts it with a clean process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/reindervandervoort/cad-pipeline/config"
	"github.com/reindervandervoort/cad-pipeline/core/executor"
	"github.com/reindervandervoort/cad-pipeline/core/notify"
	"github.com/reindervandervoort/cad-pipeline/core/queue"
	"github.com/reindervandervoort/cad-pipeline/core/sandbox"
	"github.com/reindervandervoort/cad-pipeline/core/source"
	"github.com/reindervandervoort/cad-pipeline/core/status"
	"github.com/reindervandervoort/cad-pipeline/storage"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required: fleet workers share the durable queue")
	}

	db, err := status.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobQueue := queue.NewPostgresQueue(db, cfg.QueueVisibility, cfg.MaxDeliveries)
	statusStore := status.NewPostgresStore(db)

	var artifacts storage.Store
	if cfg.ArtifactBucket != "" {
		artifacts, err = storage.NewS3Store(ctx, cfg.AWSRegion, cfg.ArtifactBucket, cfg.CDNBaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize S3 store: %v", err)
		}
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

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	log.Println("Worker started, polling for jobs")
	for ctx.Err() == nil {
		msg, handle, err := jobQueue.Receive(ctx, cfg.QueueVisibility/2)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("Failed to receive from queue: %v", err)
			continue
		}

		runErr := exec.Run(ctx, msg.Job)

		if rec, err := statusStore.Get(ctx, msg.Job.ModelName, msg.Job.Version); err == nil && rec.Status.Terminal() {
			if err := jobQueue.Ack(ctx, handle); err != nil {
				log.Printf("Failed to ack job %s: %v", msg.Job.Key(), err)
			}
		} else {
			if err := jobQueue.Nack(ctx, handle); err != nil {
				log.Printf("Failed to nack job %s: %v", msg.Job.Key(), err)
			}
		}

		if sandbox.IsFatalToWorker(runErr) {
			log.Printf("Fatal execution error, exiting for a clean restart: %v", runErr)
			os.Exit(1)
		}
	}
	log.Println("Worker exited")
}
