package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wagerchain/config"
	"wagerchain/core/arbiter"
	"wagerchain/core/audit"
	"wagerchain/core/events"
	"wagerchain/core/state"
	gatewayconfig "wagerchain/gateway/config"
	"wagerchain/gateway/middleware"
	"wagerchain/gateway/routes"
	"wagerchain/native/bank"
	nativecommon "wagerchain/native/common"
	"wagerchain/native/wager"
	"wagerchain/observability"
	"wagerchain/observability/logging"
	telemetry "wagerchain/observability/otel"
	"wagerchain/storage"
)

const shutdownTimeout = 10 * time.Second

// ledger bundles the storage-backed escrow components.
type ledger struct {
	db      storage.Database
	state   *state.Manager
	engine  *wager.Engine
	pauses  *nativecommon.Pauses
	arbiter *arbiter.Arbiter
}

func (l *ledger) Close() error { return l.db.Close() }

func openLedger(cfg *config.Config, logger *slog.Logger) (*ledger, error) {
	policy, err := cfg.WagerPolicy()
	if err != nil {
		return nil, err
	}
	custody, err := cfg.CustodyAddress()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	mgr := state.NewManager(db)
	pauses := nativecommon.NewPauses()
	engine := wager.NewEngine()
	engine.SetState(mgr)
	engine.SetPolicy(policy)
	engine.SetPauses(pauses)
	vault := bank.NewVault(mgr, custody)
	return &ledger{
		db:      db,
		state:   mgr,
		engine:  engine,
		pauses:  pauses,
		arbiter: arbiter.New(engine, vault, mgr, logger),
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, gwCfg gatewayconfig.Config, env string, logger *slog.Logger) error {
	policy, err := cfg.WagerPolicy()
	if err != nil {
		return err
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "wagerd",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Ledger: map[string]string{
			"policy":  policy.String(),
			"storage": cfg.Storage.Backend,
			"audit":   auditDriver(cfg),
			"custody": cfg.Custody.Address,
		},
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	l, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer l.Close()

	metrics := observability.WagerMetrics()
	emitters := events.Fanout{metrics}

	var history routes.HistorySource
	var idempotency middleware.IdempotencyStore
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		emitters = append(emitters, store)
		history = store
		idempotency = store
	}

	var hub *routes.Hub
	if gwCfg.Stream.Enabled {
		hub = routes.NewHub(gwCfg.Stream.BufferSize, gwCfg.Stream.WriteTimeout, logger)
		hub.SetAllowedOrigins(gwCfg.CORS.AllowedOrigins)
		emitters = append(emitters, hub)
	}
	l.engine.SetEmitter(emitters)
	metrics.TrackInFlight(l.arbiter.InFlight)

	handler, err := buildHandler(gwCfg, l, history, idempotency, hub, metrics, logger)
	if err != nil {
		return err
	}

	logger.Info("wager ledger ready",
		"backend", cfg.Storage.Backend,
		"policy", policy.String(),
		"driver", cfg.Audit.Driver,
		"dsn", logging.MaskDSN(cfg.Audit.DSN))

	server := &http.Server{
		Addr:         gwCfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}
	var tlsConfig *tls.Config
	if gwCfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(gwCfg.Security.TLSCertFile, gwCfg.Security.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		server.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", gwCfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("gateway listening", "listen", scheme+"://"+listener.Addr().String())
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func auditDriver(cfg *config.Config) string {
	if !cfg.Audit.Enabled {
		return "disabled"
	}
	return cfg.Audit.Driver
}

func buildHandler(
	gwCfg gatewayconfig.Config,
	l *ledger,
	history routes.HistorySource,
	idempotency middleware.IdempotencyStore,
	hub *routes.Hub,
	observer routes.OperationObserver,
	logger *slog.Logger,
) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gwCfg.Observability.ServiceName,
		MetricsPrefix: gwCfg.Observability.MetricsPrefix,
		LogRequests:   gwCfg.Observability.LogRequests,
		Enabled:       gwCfg.Observability.Metrics || gwCfg.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        gwCfg.Auth.Enabled,
		HMACSecret:     gwCfg.Auth.Secret(),
		Issuer:         gwCfg.Auth.Issuer,
		Audience:       gwCfg.Auth.Audience,
		ScopeClaim:     gwCfg.Auth.ScopeClaim,
		OptionalPaths:  gwCfg.Auth.OptionalPaths,
		AllowAnonymous: gwCfg.Auth.AllowAnonymous,
		ClockSkew:      gwCfg.Auth.ClockSkew,
	}, logger)
	if gwCfg.Auth.Enabled && gwCfg.Auth.Secret() == "" {
		logger.Warn("gateway auth enabled without a secret; write routes will reject every request",
			"env", gwCfg.Auth.HMACSecretEnv)
	}

	rateLimits := make(map[string]middleware.RateLimit, len(gwCfg.RateLimits))
	for _, entry := range gwCfg.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
		}
	}

	router, err := routes.New(routes.Config{
		Arbiter:        l.arbiter,
		History:        history,
		Pauses:         l.pauses,
		Observer:       observer,
		Stream:         hub,
		Idempotency:    idempotency,
		Authenticator:  auth,
		RateLimiter:    middleware.NewRateLimiter(rateLimits, logger),
		Observability:  obs,
		CORS:           middleware.CORSConfig{AllowedOrigins: gwCfg.CORS.AllowedOrigins, AllowCredentials: gwCfg.CORS.AllowCredentials},
		RequestTimeout: gwCfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure routes: %w", err)
	}
	if gwCfg.Observability.Tracing {
		return otelhttp.NewHandler(router, "wagerd"), nil
	}
	return router, nil
}
