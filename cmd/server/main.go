package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"classhub/internal/activity"
	"classhub/internal/api"
	"classhub/internal/article"
	"classhub/internal/auth"
	"classhub/internal/config"
	"classhub/internal/db"
	"classhub/internal/directory"
	"classhub/internal/geo"
	"classhub/internal/logging"
	"classhub/internal/notify"
	"classhub/internal/rate"
	"classhub/internal/service"
	"classhub/internal/store"
	"classhub/internal/version"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           version.Name,
		Short:         "Class membership, registration and article backend",
		Version:       version.Current().Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "import-members <file.json>",
		Short: "Replace every member with the records in a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	})
	return root
}

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	svc     *service.Service
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.Must(logging.Options{Level: cfg.LogLevel, Debug: cfg.LogDebug, File: cfg.LogFile})
	a := &app{cfg: cfg, log: log}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.closers = append(a.closers, sqdb.Close)
	if err := db.ApplyMigrations(sqdb, cfg.MigrationsDir); err != nil {
		a.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}

	st := store.New(sqdb)
	upgraded, err := st.UpgradeLegacyPasswords(ctx, auth.HashPassword)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("upgrade legacy passwords: %w", err)
	}
	if upgraded > 0 {
		log.Info("hashed legacy plaintext passwords", zap.Int("rows", upgraded))
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token service: %w", err)
	}

	var locator geo.Locator = geo.Noop{}
	if cfg.GeoIPDBPath != "" {
		g, err := geo.OpenGeoIP(cfg.GeoIPDBPath)
		if err != nil {
			log.Warn("geoip database unavailable, locations will be unknown", zap.String("path", cfg.GeoIPDBPath), zap.Error(err))
		} else {
			locator = g
			a.closers = append(a.closers, g.Close)
		}
	}

	dir, err := directory.New(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("directory: %w", err)
	}
	if c, ok := dir.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if err := os.MkdirAll(cfg.ContentDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	articles, err := article.NewManager(article.OSFs(cfg.ContentDir), st, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("article store: %w", err)
	}

	a.svc = service.New(cfg, st, service.Deps{
		Tokens:    tokens,
		Recorder:  activity.NewRecorder(st, locator, log),
		Articles:  articles,
		Directory: dir,
		Sender:    notify.NewSender(cfg, log),
		Log:       log,
	})
	return a, nil
}

func newLimiter(ctx context.Context, a *app) rate.Limiter {
	if a.cfg.RedisURL == "" {
		return rate.NewMemoryLimiter()
	}
	rdb, err := rate.OpenRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		a.log.Warn("redis unavailable, using in-memory rate limiter", zap.Error(err))
		return rate.NewMemoryLimiter()
	}
	a.closers = append(a.closers, rdb.Close)
	return rate.NewRedisLimiter(rdb)
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.BootstrapAdmin(ctx, a.cfg.BootstrapAdminUsername, a.cfg.BootstrapAdminPassword); err != nil {
		return err
	}

	hsrv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           api.NewRouter(a.cfg, a.svc, newLimiter(ctx, a), a.log),
		ReadTimeout:       time.Duration(a.cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.cfg.ListenAddr), zap.String("version", version.Current().Version))
		errCh <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hsrv.Shutdown(shutdownCtx)
}

func runImport(ctx context.Context, path string, out io.Writer) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := a.svc.ImportMembers(ctx, f)
	if err != nil {
		return fmt.Errorf("import members: %w", err)
	}
	a.log.Info("members imported", zap.String("file", path), zap.Int("count", n))
	fmt.Fprintf(out, "imported %d members\n", n)
	return nil
}
