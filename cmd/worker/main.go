package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skiffhost/engine/pkg/config"
	"github.com/skiffhost/engine/pkg/database"
	"github.com/skiffhost/engine/pkg/logger"

	"github.com/skiffhost/engine/internal/artifacts"
	"github.com/skiffhost/engine/internal/assets"
	"github.com/skiffhost/engine/internal/bindings"
	"github.com/skiffhost/engine/internal/platform"
	"github.com/skiffhost/engine/internal/queue/tasks"
	"github.com/skiffhost/engine/internal/repository"
	"github.com/skiffhost/engine/internal/services"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.L().Fatal("failed to open database", zap.Error(err))
	}

	store, err := artifacts.NewMinioStore(ctx,
		cfg.ArtifactsEndpoint,
		cfg.ArtifactsAccessKey,
		cfg.ArtifactsSecretKey,
		cfg.ArtifactsUseSSL,
		cfg.ArtifactsBucket,
	)
	if err != nil {
		logger.L().Fatal("failed to connect to artifact store", zap.Error(err))
	}

	projectRepo := repository.NewProjectRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	// Worker finalizes records directly; it never enqueues.
	deploySvc := services.NewDeploymentService(projectRepo, deployRepo, store, nil)

	client := platform.NewHTTPClient(cfg.PlatformAPIURL, cfg.PlatformAPIToken, cfg.DispatchNamespace)
	handler := tasks.NewDeployTaskHandler(
		deploySvc,
		deployRepo,
		resourceRepo,
		store,
		bindings.NewResolver(resourceRepo),
		assets.NewUploader(client),
		platform.NewPublisher(client),
		client,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(services.TaskDeploy, handler.HandleDeploy)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	// Allow in-flight tasks to finish gracefully.
	srv.Shutdown()
}
