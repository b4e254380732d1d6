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
	"github.com/rs/zerolog/log"

	"go.oidclab.dev/implicit/config"
	"go.oidclab.dev/implicit/domain"
	"go.oidclab.dev/implicit/guard"
	"go.oidclab.dev/implicit/internal/logging"
	"go.oidclab.dev/implicit/jwks"
	"go.oidclab.dev/implicit/resource"
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
	client, ok := registry.LookupClient(cfg.ClientID)
	if !ok {
		log.Fatal().Str("client_id", cfg.ClientID).Msg("client not registered")
	}

	keys := jwks.NewCache(cfg.IssuerURL+"/.well-known/jwks.json", 5*time.Minute, nil)
	authenticator := guard.NewAuthenticator(keys, guard.Config{
		TrustedIssuer: cfg.IssuerURL,
		Audience:      cfg.APIResource,
		ClockSkew:     time.Duration(cfg.ClockSkewSeconds) * time.Second,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	resource.NewAPI(authenticator, client.AllowedCORSOrigins).RegisterRoutes(e)

	go func() {
		log.Info().Str("addr", cfg.APIAddr).Str("audience", cfg.APIResource).Msg("protected api listening")
		if err := e.Start(cfg.APIAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
