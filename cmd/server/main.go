package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/org/authcore/internal/api"
	"github.com/org/authcore/internal/audit"
	"github.com/org/authcore/internal/auth"
	"github.com/org/authcore/internal/config"
	"github.com/org/authcore/internal/permission"
	"github.com/org/authcore/internal/secure"
	"github.com/org/authcore/internal/session"
	"github.com/org/authcore/internal/storage"
	"github.com/org/authcore/pkg/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("AUTHCORE_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := permission.LoadFile(cfg.CatalogFile)
	if err != nil {
		return err
	}

	detectorCfg := audit.DetectorConfig{
		FailureWindow:    cfg.Detector.FailureWindow,
		FailureThreshold: cfg.Detector.FailureThreshold,
		CoalesceWindow:   cfg.Detector.CoalesceWindow,
	}
	for _, r := range cfg.Detector.LowPrivilegeRoles {
		detectorCfg.LowPrivilegeRoles = append(detectorCfg.LowPrivilegeRoles, models.Role(r))
	}
	if cfg.Detector.CoalesceWindow > 0 {
		if cfg.RedisAddr != "" {
			client, err := storage.NewRedisClient(ctx, cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck
			detectorCfg.Coalescer = storage.NewRedisCoalescer(client, "")
			log.Info().Str("addr", cfg.RedisAddr).Msg("alert coalescing via redis")
		} else if mem, ok := store.(*storage.MemoryBackend); ok {
			detectorCfg.Coalescer = mem
			log.Info().Msg("alert coalescing in memory")
		} else {
			log.Warn().Msg("coalesce_window set without redis_addr; alerts are not coalesced")
		}
	}

	writer := audit.NewWriter(store, audit.NewDetector(store, detectorCfg))
	tokens := auth.NewService(store, catalog, writer, auth.Options{
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err := bootstrapAdmin(ctx, tokens, cfg.Bootstrap); err != nil {
		return err
	}

	srv := api.NewServer(store, catalog, tokens, writer, secure.NewExecutor(catalog, writer, cfg.Auth.MaxAuthAge), api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		RateLimit:   cfg.RateLimit.Requests,
		RateWindow:  cfg.RateLimit.Window,
		Session: session.Options{
			WarningThreshold: cfg.Session.WarningThreshold,
			RefreshThreshold: cfg.Session.RefreshThreshold,
			PollInterval:     cfg.Session.PollInterval,
		},
		ObserverInterval: cfg.Observer.PollInterval,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.DBUrl == "" {
		log.Warn().Msg("db_url not set, using in-memory store; state is lost on restart")
		return storage.NewMemoryBackend(), nil
	}
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		return nil, err
	}
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Msg("migrations applied")
	return store, nil
}

func bootstrapAdmin(ctx context.Context, tokens *auth.Service, b config.Bootstrap) error {
	if b.PrincipalID == "" {
		return nil
	}
	err := tokens.CreatePrincipal(ctx, b.PrincipalID, models.RoleAdmin, b.Password)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		log.Debug().Str("principal", b.PrincipalID).Msg("bootstrap admin already present")
		return nil
	case err != nil:
		return err
	}
	log.Info().Str("principal", b.PrincipalID).Msg("bootstrap admin created")
	return nil
}
