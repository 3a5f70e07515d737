package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/profile-sync-engine/internal/archive"
	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/config"
	"github.com/example/profile-sync-engine/internal/notify"
	"github.com/example/profile-sync-engine/internal/observability"
	"github.com/example/profile-sync-engine/internal/operation"
	"github.com/example/profile-sync-engine/internal/progression"
	"github.com/example/profile-sync-engine/internal/session"
	"github.com/example/profile-sync-engine/internal/store"
	"github.com/example/profile-sync-engine/internal/types"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	st := store.NewPostgres(resources.Postgres)
	locks := session.NewRegistry(resources.Redis, logger)

	hub := notify.NewHub()
	notifier := notify.NewRedisNotifier(resources.Redis, hub, logger)
	notifier.Start(ctx)

	gateway, err := notify.NewGateway(headerAuth(), hub, locks, logger, notify.GatewayConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build notification gateway")
	}

	table := progression.DefaultTable()
	table.XPPerLevel = cfg.XPPerLevel
	table.MaxLevel = cfg.MaxLevel

	svc := operation.NewService(st, operation.DefaultRegistry(), locks,
		operation.WithJournal(st),
		operation.WithNotifier(notifier),
		operation.WithCatalog(catalog.NewStaticResolver(catalog.DefaultOffers())),
		operation.WithProgression(progression.NewEngine(table)),
		operation.WithLogger(logger),
	)

	archiveWorker := archive.NewWorker(st, archive.Client{Object: resources.Object}, cfg.ObjectBucket, logger).
		WithInterval(cfg.ArchiveInterval)
	archiveWorker.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/api/game/profile/", operation.NewHTTPHandler(svc, logger))
	mux.Handle("/notifications", gateway)
	mux.Handle("/accounts/", accountsHandler(st, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := resources.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().Msg("server dependencies initialized")

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		resources.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

// headerAuth trusts the account id asserted by the fronting auth proxy. Token
// validation happens before requests reach this service.
func headerAuth() notify.Authenticator {
	return notify.AuthFunc(func(r *http.Request) (types.AccountID, error) {
		accountID := r.Header.Get("X-Account-Id")
		if accountID == "" {
			accountID = r.URL.Query().Get("accountId")
		}
		if accountID == "" {
			return "", fmt.Errorf("missing account identity")
		}
		return types.AccountID(accountID), nil
	})
}

// accountsHandler serves account lifecycle: POST /accounts/{id} registers a
// fresh aggregate from the standard template, DELETE removes it.
func accountsHandler(st store.Store, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := types.AccountID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts/"), "/"))
		if accountID == "" || strings.Contains(string(accountID), "/") {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodPost:
			agg := types.NewAggregate(accountID, time.Now().UTC())
			if err := st.Create(r.Context(), agg); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					http.Error(w, "account already exists", http.StatusConflict)
					return
				}
				logger.Error().Err(err).Str("account_id", string(accountID)).Msg("failed to register account")
				http.Error(w, "registration failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(agg)
		case http.MethodDelete:
			if err := st.Delete(r.Context(), accountID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					http.NotFound(w, r)
					return
				}
				logger.Error().Err(err).Str("account_id", string(accountID)).Msg("failed to delete account")
				http.Error(w, "deletion failed", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})
}
