// Package ledgerservice assembles and runs the ledger HTTP service.
package ledgerservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/api"
	"github.com/tabwarden/tabwarden/internal/auth"
	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/factory"
	"github.com/tabwarden/tabwarden/internal/health"
	"github.com/tabwarden/tabwarden/internal/logger"
	"github.com/tabwarden/tabwarden/internal/notify"
	"github.com/tabwarden/tabwarden/internal/services"
	"github.com/tabwarden/tabwarden/internal/store"
)

// Run starts the ledger service HTTP server and blocks until shutdown or error.
// Overrides are applied to the environment config before validation.
func Run(overrides ...func(*config.Config)) error {
	log := logger.New("ledger-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	if len(overrides) > 0 {
		for _, o := range overrides {
			o(cfg)
		}
		if err := cfg.ResolveDefaults(); err != nil {
			log.Error().Err(err).Msg("Invalid configuration override")
			return err
		}
	}
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("auth_mode", cfg.AuthMode).
		Int("http_port", cfg.HTTPPort).
		Msg("Ledger service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	return Serve(ctx, cfg, log)
}

// Serve runs the service with an explicit config until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	st, closeStore, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	notifier := factory.NewNotifier(cfg, log)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifier.Close(flushCtx); err != nil {
			log.Warn().Err(err).Msg("notify queue not drained")
		}
	}()

	svc := services.NewLedgerService(st,
		services.WithNotifier(notifier),
		services.WithStaleAfter(cfg.StaleAfter),
		services.WithLogger(log.With().Str("component", "ledger").Logger()),
	)

	svcHealth := startHealthMonitor(ctx, cfg, log, st, notifier)
	startup := time.Duration(calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)) * time.Second
	if err := svcHealth.WaitHealthy(ctx, startup); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	router := api.NewRouter(svc, auth.NewAuthorizer(cfg), svcHealth)
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// startHealthMonitor probes the store and the notify queue in the background.
func startHealthMonitor(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, notifier *notify.Dispatcher) *health.Monitor {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	m := health.NewMonitor(log,
		health.NewProbe("store", st, probeTimeout, log),
		health.NewProbe("notify", notifier, probeTimeout, log),
	)
	go m.Run(ctx, time.Duration(cfg.HealthIntervalSeconds)*time.Second)
	return m
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 10 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 10 {
		return 10
	}
	return timeout
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
