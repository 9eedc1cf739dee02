// Package web provides the HTTP server and handlers for the analytics
// backend: upload, query, table listing, transformation, and health.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"queryverse/internal/ingest"
	"queryverse/internal/metrics"
	"queryverse/internal/storage"
)

// Options configures the server.
type Options struct {
	Addr           string
	Store          storage.Config
	UploadDir      string
	ModelsDir      string
	MaxUploadBytes int64
}

// Server is the HTTP server. Each request that needs persistence opens its
// own store session and closes it before responding; there is no shared
// connection state between requests.
type Server struct {
	opts     Options
	router   *chi.Mux
	server   *http.Server
	resolver *ingest.Resolver

	// openStore is a seam for handler tests; production uses storage.Open.
	openStore func(ctx context.Context) (storage.Store, error)
}

// NewServer creates a new Server instance.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:     opts,
		router:   chi.NewRouter(),
		resolver: ingest.NewResolver(opts.MaxUploadBytes, nil),
	}
	s.openStore = func(ctx context.Context) (storage.Store, error) {
		st, err := storage.Open(ctx, opts.Store)
		if err != nil {
			return nil, err
		}
		if err := st.Init(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleRoot)
	s.router.Post("/upload", s.handleUpload)
	s.router.Get("/tables", s.handleTables)
	s.router.Post("/query", s.handleQuery)
	s.router.Post("/dbt/{command}", s.handleDBT)
	s.router.Get("/analytics", s.handleAnalytics)
	s.router.Get("/health", s.handleHealth)
}

// Router exposes the handler tree, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request with status and latency, and feeds
// the http request counter.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{
			"status": strconv.Itoa(status),
		})
		logRequest(r, status, ww.BytesWritten(), time.Since(start))
	})
}
