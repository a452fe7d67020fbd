package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/QFiSouthaven/Jynco-sub001/internal/cache"
	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/config"
	"github.com/QFiSouthaven/Jynco-sub001/internal/handler"
	"github.com/QFiSouthaven/Jynco-sub001/internal/middleware"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
	ws "github.com/QFiSouthaven/Jynco-sub001/internal/websocket"
	"github.com/QFiSouthaven/Jynco-sub001/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Starting render engine (role=%s, env=%s, log=%s)", cfg.Server.Role, cfg.Server.Env, cfg.Server.LogLevel)

	ctx := context.Background()

	// Redis is shared by the queue, the cache, the rate limiter and the
	// composition publisher; only connect when one of them needs it.
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis not available: %v", err)
		}
	}

	jobQueue := newQueue(cfg, redisClient)
	artifactCache := newCache(cfg, redisClient)

	st, closeStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}
	content := client.NewContentFetcher(storage, 60*time.Second)

	registry, err := client.NewRegistryFromConfig(cfg.Backends)
	if err != nil {
		log.Fatalf("Failed to register backends: %v", err)
	}
	log.Printf("Generation backends: %v", registry.Names())

	// Progress events are only delivered by the process that serves /ws.
	var hub *ws.Hub
	var notifier service.Notifier
	if cfg.Server.Role != config.RoleWorker {
		hub = ws.NewHub()
		go hub.Run()
		defer hub.Stop()
		notifier = hub
	}

	retry := service.RetryPolicy{Base: cfg.Retry.Base, MaxAttempts: cfg.Retry.MaxAttempts}
	orchestrator := service.NewOrchestrator(st, jobQueue, artifactCache, registry, content, notifier, retry)
	projectService := service.NewProjectService(st, registry, orchestrator)

	// Worker pool
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	if cfg.Server.Role != config.RoleAPI {
		publisher, closePublisher := newPublisher(cfg)
		defer closePublisher()

		segmentWorker := worker.NewSegmentWorker(orchestrator, jobQueue, registry, storage, content, cfg.Worker.PollInterval, cfg.Worker.MaxWait)
		compositionWorker := worker.NewCompositionWorker(orchestrator, publisher)
		pool := worker.NewPool(jobQueue, orchestrator, segmentWorker, compositionWorker, cfg.Worker)

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := pool.Run(workerCtx); err != nil {
				log.Printf("Worker pool error: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Server.Role == config.RoleWorker {
		<-quit
		log.Println("Shutting down workers...")
		stopWorkers()
		workers.Wait()
		return
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app, handler.Dependencies{
		Projects:      projectService,
		Orchestrator:  orchestrator,
		Queue:         jobQueue,
		Registry:      registry,
		Hub:           hub,
		RateLimiter:   middleware.NewRateLimiter(redisClient),
		RenderPerHour: cfg.RateLimit.RenderPerHour,
		Validator:     validator.New(),
	})

	// Graceful shutdown
	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	stopWorkers()
	workers.Wait()
}

func newQueue(cfg *config.Config, redisClient *redis.Client) queue.Queue {
	opts := queue.Options{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxNacks:          cfg.Queue.MaxNacks,
		PollInterval:      cfg.Queue.PollInterval,
		Retention:         cfg.Queue.Retention,
	}
	if cfg.Queue.Backend == "redis" {
		log.Printf("Queue: redis (%s)", cfg.Redis.Addr)
		return queue.NewRedisQueue(redisClient, opts)
	}
	log.Println("Queue: in-memory")
	return queue.NewMemoryQueue(opts)
}

func newCache(cfg *config.Config, redisClient *redis.Client) cache.Cache {
	if cfg.Cache.Backend == "redis" {
		log.Printf("Cache: redis (ttl=%s)", cfg.Cache.TTL)
		return cache.NewRedisCache(redisClient, cfg.Cache.TTL)
	}
	log.Printf("Cache: in-memory (max=%d, ttl=%s)", cfg.Cache.MaxEntries, cfg.Cache.TTL)
	return cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
}

func newStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "mysql", "sqlite":
		gs, err := store.OpenGorm(cfg.Store.Backend, cfg.Store.DSN, cfg.Server.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Store: %s", cfg.Store.Backend)
		return gs, func() {
			if err := gs.Close(); err != nil {
				log.Printf("Failed to close store: %v", err)
			}
		}, nil
	}
	log.Println("Store: in-memory")
	return store.NewMemoryStore(), func() {}, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (client.StorageClient, error) {
	switch cfg.Storage.Backend {
	case "r2":
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			return nil, fmt.Errorf("r2: %w", err)
		}
		log.Printf("Storage: r2 (%s)", cfg.R2.BucketName)
		return r2, nil
	case "minio":
		mc, err := client.NewMinIOClient(ctx, &cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		log.Printf("Storage: minio (%s/%s)", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)
		return mc, nil
	}
	log.Println("Storage: disabled, artifacts stay at backend URLs")
	return nil, nil
}

func newPublisher(cfg *config.Config) (client.CompositionPublisher, func()) {
	if cfg.Composition.Publisher != "asynq" {
		return client.LogPublisher{}, func() {}
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Printf("Composition: asynq queue %q", cfg.Composition.Queue)
	return client.NewAsynqPublisher(asynqClient, cfg.Composition.Queue), func() {
		asynqClient.Close()
	}
}
