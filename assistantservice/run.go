// Package assistantservice wires the assistant's dependencies and runs the
// HTTP server plus background loops.
package assistantservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cadencehq/cadence/internal/api"
	"github.com/cadencehq/cadence/internal/calendar/google"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/gateway/twilio"
	"github.com/cadencehq/cadence/internal/health"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/orchestrator"
	"github.com/cadencehq/cadence/internal/platform/logger"
	"github.com/cadencehq/cadence/internal/reasoning/ollama"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/store/postgres"
	"github.com/cadencehq/cadence/internal/store/sqlite"
)

// Run starts the assistant service and blocks until shutdown or error.
func Run() error {
	log := logger.New("cadence-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("reasoning_model", cfg.ReasoningModel).
		Msg("assistant service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("store unavailable")
		return err
	}

	engine := ollama.New(cfg.ReasoningURL, cfg.ReasoningModel, time.Duration(cfg.ReasoningTimeoutSeconds)*time.Second)
	provider := google.New(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.OAuthRedirectBase+"/api/calendar/callback",
		st.CalendarTokens(),
		log,
	)
	gw := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, "", log)
	assistant := orchestrator.New(st, engine, provider, log)

	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second
	storeCheck := health.NewPingChecker("store", st, probeTimeout, log)
	reasoningCheck := health.NewPingChecker("reasoning", engine, probeTimeout, log)
	svcHealth := health.NewServiceHealthChecker(log, storeCheck, reasoningCheck)

	router := api.NewRouter(assistant, st, provider, gw, svcHealth, log)
	server := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		storeCheck.Start(gctx, interval)
		return nil
	})
	g.Go(func() error {
		reasoningCheck.Start(gctx, interval)
		return nil
	})
	g.Go(func() error {
		svcHealth.Start(gctx, interval)
		return nil
	})
	g.Go(func() error {
		sweepExpiredPendings(gctx, st, time.Duration(cfg.SweepIntervalSeconds)*time.Second, log)
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service exited with error")
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

func newStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		log.Info().Msg("using postgres store")
		return postgres.New(ctx, cfg.PostgresDSN)
	case "sqlite":
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return sqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// sweepExpiredPendings clears expired pending events in the background.
// Expiry is also enforced lazily per message; the sweep just keeps the table
// tidy for users who never came back.
func sweepExpiredPendings(ctx context.Context, st store.Store, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PendingEvents().DeleteExpired(ctx, time.Now().Add(-model.PendingEventTTL))
			if err != nil {
				log.Warn().Err(err).Msg("pending sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Msg("expired pending events swept")
			}
		}
	}
}
