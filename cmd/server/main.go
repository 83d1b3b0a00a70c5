package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/i2vstudio/api/internal/client"
	"github.com/i2vstudio/api/internal/config"
	"github.com/i2vstudio/api/internal/runner"
	"github.com/i2vstudio/api/internal/server"
	"github.com/i2vstudio/api/internal/service"
	ws "github.com/i2vstudio/api/internal/websocket"
	"github.com/i2vstudio/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Without Redis only the synchronous endpoint works
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, async jobs disabled: %v", err)
		redisAvailable = false
	}

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub()
	go hub.Run(hubCtx)

	// Optional result publishing
	var storage client.StorageClient
	if cfg.Storage.Enabled() {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: storage disabled: %v", err)
		} else {
			storage = s3Client
		}
	}

	videoRunner := runner.NewRunner(cfg.Worker, runner.ResultLocator{
		UploadsDir:   cfg.Uploads.Dir,
		Mount:        cfg.Uploads.Mount,
		VerifyExists: cfg.Worker.VerifyResult,
	})

	deps := service.VideoDeps{
		Uploads:       service.NewUploadService(cfg.Uploads),
		Runner:        videoRunner,
		Notifier:      hub,
		Storage:       storage,
		StoragePrefix: cfg.Storage.Prefix,
		TaskTimeout:   taskTimeout(cfg.Worker),
	}

	// Canceled on shutdown so running jobs stop their workers. It is the base
	// context of queued task handlers as well.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	var (
		asynqClient *asynq.Client
		asynqServer *asynq.Server
		videoWorker *worker.VideoWorker
	)
	if redisAvailable {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()

		deps.Jobs = service.NewRedisJobStore(redisClient)
		deps.Queue = asynqClient
	}
	videoService := service.NewVideoService(deps)

	if redisAvailable {
		videoWorker = worker.NewVideoWorker(videoService)
		asynqServer = newWorkerServer(cfg, redisOpt, jobCtx, videoRunner.StopGrace())
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeVideo, videoWorker.ProcessTask)
		if err := asynqServer.Start(mux); err != nil {
			log.Printf("Warning: asynq worker server not started: %v", err)
			asynqServer = nil
		}
	}

	var appRedis *redis.Client
	if redisAvailable {
		appRedis = redisClient
	}
	app := server.New(server.Deps{
		Config: cfg,
		Redis:  appRedis,
		Hub:    hub,
		Video:  videoService,
		JobCtx: jobCtx,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Printf("Server starting on %s", addr)
		return app.Listen(addr)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		// interrupted tasks are archived by asynq and recorded as canceled
		if asynqServer != nil {
			asynqServer.Stop()
		}
		cancelJobs()
		if asynqServer != nil {
			asynqServer.Shutdown()

			waitCtx, cancel := context.WithTimeout(context.Background(), videoRunner.StopGrace()+5*time.Second)
			if err := videoWorker.Wait(waitCtx); err != nil {
				log.Printf("Video jobs still running at shutdown: %v", err)
			}
			cancel()
		}
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		stopHub()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, jobCtx context.Context, stopGrace time.Duration) *asynq.Server {
	var level asynq.LogLevel
	if err := level.Set(cfg.Server.LogLevel); err != nil {
		level = asynq.InfoLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		// the runner's semaphore is the real bound; extra tasks wait there as queued
		Concurrency:     cfg.Worker.MaxConcurrent,
		Queues:          map[string]int{service.QueueVideo: 1},
		LogLevel:        level,
		ShutdownTimeout: stopGrace + 5*time.Second,
		BaseContext: func() context.Context {
			return jobCtx
		},
	})
}

// taskTimeout leaves the runner room to interrupt and reap the worker first
func taskTimeout(cfg config.WorkerConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return 0
	}
	return cfg.Timeout + cfg.KillGrace + time.Minute
}
