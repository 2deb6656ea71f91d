package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/skiffhost/engine/internal/api"
	"github.com/skiffhost/engine/internal/api/handlers"
	"github.com/skiffhost/engine/internal/artifacts"
	"github.com/skiffhost/engine/internal/repository"
	"github.com/skiffhost/engine/internal/services"
	"github.com/skiffhost/engine/pkg/config"
	"github.com/skiffhost/engine/pkg/database"
	"github.com/skiffhost/engine/pkg/logger"
)

// @title           Skiff Deployment Engine API
// @version         1.0
// @description     Multi-tenant deployment pipeline: manifest validation, asset upload, and script publication into a shared dispatch namespace.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting Skiff Deployment Engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("dispatch_namespace", cfg.DispatchNamespace),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	store, err := artifacts.NewMinioStore(ctx,
		cfg.ArtifactsEndpoint,
		cfg.ArtifactsAccessKey,
		cfg.ArtifactsSecretKey,
		cfg.ArtifactsUseSSL,
		cfg.ArtifactsBucket,
	)
	if err != nil {
		log.Fatal("Failed to connect to artifact store", zap.Error(err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()

	projectRepo := repository.NewProjectRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	deploySvc := services.NewDeploymentService(projectRepo, deployRepo, store, asynqClient)

	router := api.NewRouter(api.Dependencies{
		ServiceToken:       cfg.ServiceToken,
		ProjectsHandler:    handlers.NewProjectsHandler(projectRepo),
		DeploymentsHandler: handlers.NewDeploymentsHandler(deploySvc),
		ResourcesHandler:   handlers.NewResourcesHandler(resourceRepo),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
