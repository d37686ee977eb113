package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/config"
	"github.com/Tyrowin/presencehub/internal/db"
	"github.com/Tyrowin/presencehub/internal/logging"
	"github.com/Tyrowin/presencehub/internal/server"
	"github.com/Tyrowin/presencehub/internal/store"
	"github.com/Tyrowin/presencehub/internal/users"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand(config.NewViper()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "presencehub",
		Short:         "Real-time presence and chat relay hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "HTTP listen address (SERVER_PORT)")
	flags.String("redis-addr", "", "Redis address for presence and history (REDIS_ADDR)")
	flags.String("database-url", "", "Postgres DSN for accounts and refresh tokens (DATABASE_URL)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.Duration("sweep-interval", 0, "liveness sweep interval (SWEEP_INTERVAL)")
	bindFlag(v, cmd, "SERVER_PORT", "port")
	bindFlag(v, cmd, "REDIS_ADDR", "redis-addr")
	bindFlag(v, cmd, "DATABASE_URL", "database-url")
	bindFlag(v, cmd, "LOG_LEVEL", "log-level")
	bindFlag(v, cmd, "SWEEP_INTERVAL", "sweep-interval")

	return cmd
}

// bindFlag lets an explicitly set flag override the env/.env value of key.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend := openEphemeralBackend(ctx, cfg, logger)
	defer closeBackend()

	refreshStore, accounts, closeDB, err := openAccountStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	tokens := auth.NewService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, refreshStore,
		auth.WithTTLs(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))

	srv := server.New(server.Options{
		Config:  *cfg,
		Logger:  logger,
		Tokens:  tokens,
		Backend: backend,
		Users:   accounts,
	})
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Hub().Run()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		httpErr := server.ShutdownServer(httpServer, shutdownTimeout, logger)
		hubErr := srv.Hub().Shutdown(shutdownTimeout)
		if httpErr != nil {
			return httpErr
		}
		return hubErr
	})

	return g.Wait()
}

func openEphemeralBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Backend, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, keeping presence and history in memory")
		return store.NewMemoryBackend(), func() {}
	}

	backend := store.NewRedisBackend(store.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		// Store writes are best-effort; keep serving and let operations log failures.
		logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return backend, func() { _ = backend.Close() }
}

func openAccountStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.RefreshStore, users.Store, func(), error) {
	hasher := users.NewHasher(cfg.BcryptCost)
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, nil, nil, fmt.Errorf("DATABASE_URL must be set when APP_ENV=production")
		}
		logger.Info("DATABASE_URL not set, keeping accounts and refresh tokens in memory")
		return auth.NewMemoryRefreshStore(), users.NewMemoryStore(hasher), func() {}, nil
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return auth.NewPostgresRefreshStore(conn), users.NewPostgresStore(conn, hasher), func() { _ = conn.Close() }, nil
}
