package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/jekabolt/sales-rollup/internal/dependency"
	"github.com/jekabolt/sales-rollup/internal/entity"
	mw "github.com/jekabolt/sales-rollup/internal/middleware"
)

// Config is the configuration for the http server
type Config struct {
	Port           string        `mapstructure:"port"`
	Address        string        `mapstructure:"address"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RollupReader reads persisted rollups.
type RollupReader interface {
	GetDailyRollups(ctx context.Context, accountId string, startDate, endDate string) ([]entity.StoredDailyRollup, error)
}

// RunReader reads the run history.
type RunReader interface {
	GetLastRun(ctx context.Context, accountId string) (*entity.RollupRun, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers read from. Rollups, Runs and DB may be
// nil when no database is configured.
type Deps struct {
	Accounts   entity.Accounts
	Reconciler dependency.Reconciler
	Cache      dependency.ResultCache
	Rollups    RollupReader
	Runs       RunReader
	DB         Pinger
}

// Server is the http server
type Server struct {
	hs   *http.Server
	c    *Config
	d    *Deps
	done chan struct{}
}

// New creates a new server
func New(config *Config, d *Deps) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	return &Server{
		c:    config,
		d:    d,
		done: make(chan struct{}),
	}
}

// Done returns a channel that is closed when the http server exits
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Handler returns the router serving the JSON API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return isOriginAllowed(origin, s.c.AllowedOrigins)
		},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.c.RequestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", s.health)

	r.Route("/api/accounts", func(r chi.Router) {
		r.Get("/", s.listAccounts)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Use(s.accountCtx)
			r.Get("/rollups", s.getRollups)
			r.Get("/rollups/stored", s.getStoredRollups)
			r.Get("/runs/last", s.getLastRun)
		})
	})

	return r
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {
	listenerAddr := fmt.Sprintf("%s:%s", s.c.Address, s.c.Port)
	s.hs = &http.Server{
		Addr:              listenerAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(s.done)
		slog.Default().InfoContext(ctx, fmt.Sprintf("sales-rollup listener on: http://%v", listenerAddr))
		err := s.hs.ListenAndServe()
		if err == http.ErrServerClosed {
			slog.Default().InfoContext(ctx, "http server returned")
		} else {
			slog.Default().ErrorContext(ctx, "http server exited with an error",
				slog.String("err", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Shutdown(ctx)
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "https://localhost:") {
		return true
	}
	for _, allowedOrigin := range allowedOrigins {
		if allowedOrigin == "*" || origin == allowedOrigin {
			return true
		}
	}
	return false
}
