package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"wagerchain/core/arbiter"
	"wagerchain/gateway/middleware"
	nativecommon "wagerchain/native/common"
)

// Rate limit keys applied to the wager route groups.
const (
	RateLimitRead  = "read"
	RateLimitWrite = "write"
)

type Config struct {
	Arbiter        *arbiter.Arbiter
	History        HistorySource
	Pauses         *nativecommon.Pauses
	Observer       OperationObserver
	Stream         *Hub
	Idempotency    middleware.IdempotencyStore
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Arbiter == nil {
		return nil, errors.New("routes: arbiter required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wr := &wagerRoutes{
		arbiter:  cfg.Arbiter,
		history:  cfg.History,
		pauses:   cfg.Pauses,
		observer: cfg.Observer,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	if cfg.Stream != nil {
		r.Handle("/v1/stream", cfg.Stream)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RequestTimeout > 0 {
			v1.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		v1.Group(func(g chi.Router) {
			if cfg.RateLimiter != nil {
				g.Use(cfg.RateLimiter.Middleware(RateLimitRead))
			}
			wr.mountPublic(g)
		})
		v1.Group(func(g chi.Router) {
			if cfg.RateLimiter != nil {
				g.Use(cfg.RateLimiter.Middleware(RateLimitWrite))
			}
			if cfg.Authenticator != nil {
				g.Use(cfg.Authenticator.Middleware(middleware.ScopeWagerWrite))
			}
			g.Use(middleware.Idempotency(cfg.Idempotency, logger))
			wr.mountWrite(g)
		})
		v1.Group(func(g chi.Router) {
			if cfg.RateLimiter != nil {
				g.Use(cfg.RateLimiter.Middleware(RateLimitWrite))
			}
			if cfg.Authenticator != nil {
				g.Use(cfg.Authenticator.Middleware(middleware.ScopeWagerAdmin))
			}
			g.Use(middleware.Idempotency(cfg.Idempotency, logger))
			wr.mountAdmin(g)
		})
	})

	return r, nil
}
