package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/netprobe/internal/engine"
	apimw "github.com/hamed0406/netprobe/internal/httpapi/middleware"
	"github.com/hamed0406/netprobe/internal/repo"
	"github.com/hamed0406/netprobe/internal/resolver/doh"
	"github.com/hamed0406/netprobe/internal/resolver/geo"
)

// Multi-source dig runs its sources this many at a time.
const digConcurrency = 12

type Server struct {
	Logger  *zap.Logger
	Engine  *engine.Engine
	Targets repo.TargetStore
	Results repo.ResultStore

	Resolver   geo.Resolver
	Locator    geo.Locator
	Sources    []doh.Source
	Metrics    http.Handler
	MaxTargets int
	Ready      func() error
}

type Option func(*Server)

// WithGeo enables the check-host tool.
func WithGeo(r geo.Resolver, l geo.Locator) Option {
	return func(s *Server) { s.Resolver, s.Locator = r, l }
}

func WithSources(src []doh.Source) Option {
	return func(s *Server) { s.Sources = src }
}

func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

// WithMaxTargets caps the number of hosts in one bulk request.
func WithMaxTargets(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.MaxTargets = n
		}
	}
}

// WithReadiness makes /healthz report 503 while check returns an error.
func WithReadiness(check func() error) Option {
	return func(s *Server) { s.Ready = check }
}

func NewServer(l *zap.Logger, eng *engine.Engine, ts repo.TargetStore, rs repo.ResultStore, opts ...Option) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Server{
		Logger:     l,
		Engine:     eng,
		Targets:    ts,
		Results:    rs,
		Resolver:   &net.Resolver{},
		Sources:    doh.DefaultSources,
		MaxTargets: 500,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router wires every route. Tool and read routes need any configured key,
// adding watch targets needs an admin key.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(apimw.RequestLogger(s.Logger))
	r.Use(corsHandler(allowedOrigins))

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RateLimitByRole(keys, publicRPM, publicBurst, adminRPM, adminBurst))
		r.Use(apimw.RequireAny(keys))

		r.Route("/tools", func(r chi.Router) {
			r.Post("/bulk-check", s.handleBulkCheck)
			r.Get("/bulk-check/stream", s.handleBulkStream(allowedOrigins))
			r.Post("/ping", s.handlePing)
			r.Post("/dig", s.handleDig)
			r.Post("/ssl-check", s.handleSSLCheck)
			r.Post("/ssl-decoder", s.handleSSLDecode)
			r.Post("/check-host", s.handleCheckHost)
		})
		r.Post("/dig", s.handleMultiDig)

		r.Get("/targets", s.handleListTargets)
		r.With(apimw.RequireAdmin(keys)).Post("/targets", s.handleAddTarget)
		r.Get("/results/latest", s.handleLatest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	st := s.Engine.CacheStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"cache":  st,
	})
}
