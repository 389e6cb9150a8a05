package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/config"
	"github.com/Lixing-Zhang/foodprep/internal/handlers"
	"github.com/Lixing-Zhang/foodprep/internal/imagestore"
	"github.com/Lixing-Zhang/foodprep/internal/manifest"
	"github.com/Lixing-Zhang/foodprep/internal/metrics"
	"github.com/Lixing-Zhang/foodprep/internal/middleware"
	"github.com/Lixing-Zhang/foodprep/internal/repository"
	"github.com/Lixing-Zhang/foodprep/internal/service"
	"github.com/Lixing-Zhang/foodprep/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	log.Info("starting food catalog api server",
		"version", version,
		"port", cfg.Server.Port,
		"host", cfg.Server.Host,
		"store_driver", cfg.Store.Driver,
		"manifest_path", cfg.Manifest.Path,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer repo.Close()

	images, err := imagestore.NewDiskStore(cfg.Manifest.ImagesDir)
	if err != nil {
		return err
	}

	syncer := manifest.NewSynchronizer(manifest.Config{
		Path:      cfg.Manifest.Path,
		ImagesDir: cfg.Manifest.ImagesDir,
	}, log)
	defer syncer.Close()

	catalogService := service.NewCatalogService(repo, images, syncer, log)
	if n, err := repo.Count(ctx); err == nil {
		metrics.CatalogItemsTotal.Set(float64(n))
		log.Info("catalog store opened", "items", n)
	}

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, catalogService, log),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repository.CatalogRepository, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		return repository.NewBoltCatalogRepository(cfg.Path)
	case config.DriverSQLite:
		return repository.NewSQLiteCatalogRepository(ctx, cfg.Path)
	case config.DriverMemory:
		return repository.NewInMemoryCatalogRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newRouter(cfg *config.Config, catalogService *service.CatalogService, log *slog.Logger) http.Handler {
	healthHandler := handlers.NewHealthHandler(catalogService, log)
	catalogHandler := handlers.NewCatalogHandler(catalogService, cfg.Upload.MaxBytes, log)
	requireKey := middleware.APIKeyAuth(cfg.Auth, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/food", func(r chi.Router) {
		r.Get("/", catalogHandler.ListItems)
		r.Get("/category/{category}", catalogHandler.ListByCategory)
		r.Get("/{itemId}", catalogHandler.GetItem)

		r.With(requireKey).Post("/", catalogHandler.AddItem)
		r.With(requireKey).Put("/{itemId}", catalogHandler.UpdateItem)
		r.With(requireKey).Delete("/{itemId}", catalogHandler.DeleteItem)
	})

	return r
}
