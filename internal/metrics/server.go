package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"keytrace/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics and /healthz while a run is in progress.
type Server struct {
	r   *chi.Mux
	srv *http.Server
	ln  net.Listener
}

func NewServer(recorder *Recorder) *Server {
	s := &Server{r: chi.NewRouter()}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Handle("/metrics", promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{}))
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.GetLogger().WithError(err).Error("Metrics server stopped")
		}
	}()

	logging.GetLogger().WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return nil
}

// Addr is the bound address, useful with ":0".
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
