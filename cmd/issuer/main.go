package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.oidclab.dev/implicit/cache"
	"go.oidclab.dev/implicit/config"
	"go.oidclab.dev/implicit/domain"
	"go.oidclab.dev/implicit/internal/logging"
	"go.oidclab.dev/implicit/internal/session"
	"go.oidclab.dev/implicit/issuer"
	issuerapi "go.oidclab.dev/implicit/issuer/api"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	registry, err := domain.SeedRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build registration tables")
	}

	keySet, err := issuer.NewKeySet()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate signing keys")
	}

	sessions, denylist := buildStores(cfg)
	defer func() {
		_ = sessions.Close()
		_ = denylist.Close()
	}()

	service := issuer.NewService(registry, keySet, sessions, session.NewMemoryFlowStore(), denylist, issuer.Options{
		Issuer:     cfg.IssuerURL,
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
		FlowTTL:    time.Duration(cfg.FlowTTLMinutes) * time.Minute,
		ClockSkew:  time.Duration(cfg.ClockSkewSeconds) * time.Second,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	issuerapi.NewIssuerAPI(service).RegisterRoutes(e)

	go func() {
		log.Info().Str("addr", cfg.IssuerAddr).Str("issuer", cfg.IssuerURL).Msg("token issuer listening")
		if err := e.Start(cfg.IssuerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("issuer server failed")
		}
	}()

	waitForShutdown(e)
}

// buildStores picks Redis-backed stores when a Redis address is configured,
// in-memory stores otherwise.
func buildStores(cfg *config.Config) (session.Store, cache.DenyList) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(), cache.NewMemoryDenyList()
	}
	sessionClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	denyClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis-backed session and revocation stores")
	return session.NewRedisStore(sessionClient, cfg.RedisPrefix),
		cache.NewRedisDenyList(denyClient, cfg.RedisPrefix)
}

func waitForShutdown(e *echo.Echo) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
