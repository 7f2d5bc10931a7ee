package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spinwheel/internal/config"
	"spinwheel/internal/game"
	"spinwheel/internal/handlers"
	"spinwheel/internal/logging"
	"spinwheel/internal/repository"
	"spinwheel/internal/repository/memory"
	"spinwheel/internal/repository/postgres"
	"spinwheel/internal/repository/rediskv"
	"spinwheel/internal/wheel"
)

func main() {
	configPath := flag.String("config", os.Getenv("WHEEL_CONFIG"), "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New("spinwheel", cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	_ = mime.AddExtensionType(".js", "application/javascript")
	_ = mime.AddExtensionType(".css", "text/css")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}()

	var rng wheel.RNG
	if cfg.Wheel.Seed != 0 {
		rng = wheel.NewSeededRNG(cfg.Wheel.Seed)
	}
	store := game.NewStore(game.Options{
		Repo:   repo,
		Roster: cfg.Wheel.Prizes,
		Spin:   cfg.Spin.Wheel(),
		RNG:    rng,
		Logger: logger,
	})
	defer store.Close()

	if _, err := store.OpenWheel(ctx, cfg.Wheel.DefaultID); err != nil {
		return fmt.Errorf("open wheel %s: %w", cfg.Wheel.DefaultID, err)
	}

	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	// Preflight requests never reach a route, so CORS sits on the root router.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Player-ID"},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	homeHandler := handlers.NewHomeHandler(store, cfg.Wheel.DefaultID, logger)
	wheelHandler := handlers.NewWheelHandler(store, cfg.HTTP.BaseURL, logger)
	apiHandler := handlers.NewAPIHandler(store, logger)

	// The event stream stays open; everything else gets a deadline.
	wheelHandler.RegisterStream(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
		r.Mount("/static", http.StripPrefix("/static", http.FileServer(http.FS(staticFS))))
		homeHandler.RegisterRoutes(r)
		wheelHandler.RegisterRoutes(r)
		apiHandler.RegisterRoutes(r)
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("wheel_id", cfg.Wheel.DefaultID),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Streams only end when their subscriptions close.
		store.Close()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRepository(ctx context.Context, cfg config.StorageConfig) (repository.Repository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	switch cfg.Driver {
	case config.DriverRedis:
		return rediskv.New(connectCtx, rediskv.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case config.DriverPostgres:
		return postgres.New(connectCtx, cfg.Postgres.DSN)
	default:
		return memory.New(), nil
	}
}

//go:embed static/*
var embeddedStatic embed.FS
