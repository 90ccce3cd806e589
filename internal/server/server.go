// Package server exposes the compiler over HTTP and hot reloads the model
// when its files change.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/grainql/internal/engine"
)

const logPrefix = "[SERVER]"

// Server is the compile API server.
type Server struct {
	engine   *engine.Engine
	addr     string
	watch    bool
	debounce time.Duration
	logger   *slog.Logger
	broker   *Broker

	mu         sync.Mutex
	generation int
}

// Config holds server configuration.
type Config struct {
	Engine *engine.Engine
	Addr   string
	// Watch reloads the model when files in the models directory change.
	Watch    bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Server{
		engine:   cfg.Engine,
		addr:     cfg.Addr,
		watch:    cfg.Watch,
		debounce: debounce,
		logger:   logger,
		broker:   NewBroker(),
	}
}

// Broker returns the reload event broker.
func (s *Server) Broker() *Broker { return s.broker }

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/queries", s.handleQueries)
	r.Get("/concepts", s.handleConcepts)
	r.Get("/datasources", s.handleDatasources)
	r.Get("/history", s.handleHistory)
	r.Get("/events", s.handleEvents)
	r.Post("/compile", s.handleCompile)
	r.Post("/reload", s.handleReload)
	return r
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		s.logger.Info(logPrefix+" listening", "addr", s.addr, "models_dir", s.engine.ModelsDir(), "dialect", s.engine.Dialect().Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if s.watch {
		g.Go(func() error {
			return Watch(ctx, s.engine.ModelsDir(), s.debounce, s.logger, func(files []string) {
				s.Reload(files)
			})
		})
	}

	return g.Wait()
}

// Reload reloads the model and publishes the outcome. A failed reload
// keeps the previous model active.
func (s *Server) Reload(files []string) ReloadEvent {
	s.mu.Lock()
	s.generation++
	ev := ReloadEvent{Generation: s.generation, At: time.Now().UTC(), Files: files}
	s.mu.Unlock()

	m, err := s.engine.Load()
	if err != nil {
		ev.Error = err.Error()
		s.logger.Warn(logPrefix+" reload failed, keeping previous model", "error", err)
	} else {
		ev.Queries = len(m.Queries)
		s.logger.Info(logPrefix+" model reloaded", "files", len(files), "queries", ev.Queries)
	}
	s.broker.Publish(ev)
	return ev
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(logPrefix+" request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
