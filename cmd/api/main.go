package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/config"
	"pricetrail.io/internal/httpapi"
	"pricetrail.io/internal/migrate"
	"pricetrail.io/internal/obs"
	"pricetrail.io/internal/permissions"
	"pricetrail.io/internal/store/memory"
	"pricetrail.io/internal/store/pg"
	"pricetrail.io/internal/stream"
	"pricetrail.io/migrations"
)

var (
	version = "0.1.0"
	commit  = ""
)

// backend is what the services need from a store.
type backend interface {
	auth.Store
	permissions.Store
	catalog.Store
	Audit() audit.Store
}

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, version)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.InitLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("pricetrail-api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, probe, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := stream.New()
	var publisher stream.Publisher = hub
	if cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		relay := stream.NewRedisRelay(client, cfg.Redis.Channel, hub, logger)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		logger.Info("change relay enabled", zap.String("redis", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	authSvc, err := auth.NewService(store, cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithPublisher(publisher),
		auth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	resolver := permissions.NewResolver(store, logger,
		permissions.WithBootstrapAdmins(cfg.Auth.BootstrapAdminEmails...))
	if len(cfg.Auth.BootstrapAdminEmails) == 0 {
		logger.Warn("PRICETRAIL_BOOTSTRAP_ADMIN_EMAIL not set, no account starts with admin rights")
	}
	recorder := audit.NewRecorder(store.Audit(), logger, audit.WithPublisher(publisher))
	defer recorder.Wait()

	catalogOpts := []catalog.Option{
		catalog.WithPublisher(publisher),
		catalog.WithLogger(logger),
	}
	if cfg.Catalog.ViewMaxAge > 0 {
		view := catalog.NewView(store, catalog.WithMaxAge(cfg.Catalog.ViewMaxAge))
		go view.Watch(ctx, hub)
		catalogOpts = append(catalogOpts, catalog.WithView(view))
	}
	catalogSvc := catalog.NewService(store, resolver, recorder, catalogOpts...)

	api := httpapi.New(probe, version, httpapi.Services{
		Auth:        authSvc,
		Permissions: resolver,
		Admin:       permissions.NewAdmin(store),
		Catalog:     catalogSvc,
		Trail:       audit.NewTrail(store.Audit()),
		Changes:     hub,
	},
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
		httpapi.WithLogger(logger))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		// SSE responses are long-lived; zero disables the write deadline.
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting pricetrail-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe, logger)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// openStore connects to Postgres when a DSN is configured and falls back to
// the in-memory store otherwise. Config validation only allows the fallback
// in local environments.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, httpapi.ReadyProbe, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("PRICETRAIL_PG_DSN not set, using in-memory store", zap.String("env", cfg.Env))
		return memory.New(), httpapi.ReadyProbe{}, func() {}, nil
	}

	store, err := pg.Open(cfg.Database.DSN,
		pg.WithPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime))
	if err != nil {
		return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("open db: %w", err)
	}
	closeFn := func() { _ = store.Close() }

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("database not reachable yet", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		mgr := migrate.NewManager(store.DB(), migrations.FS, migrate.WithLogger(logger))
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := mgr.Up(migrateCtx); err != nil {
			closeFn()
			return nil, httpapi.ReadyProbe{}, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, httpapi.ReadyProbe{DB: store.DB()}, closeFn, nil
}
