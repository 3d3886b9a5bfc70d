package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/R3E-Network/imagebulk/internal/app/system"
	"github.com/R3E-Network/imagebulk/internal/config"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// httpServer runs the API as a lifecycle-managed service.
type httpServer struct {
	server *http.Server
	log    *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

var _ system.Service = (*httpServer)(nil)

func newHTTPServer(cfg config.ServerConfig, handler http.Handler, log *logger.Logger) *httpServer {
	return &httpServer{
		server: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *httpServer) Name() string { return "http-server" }

func (s *httpServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")
	return nil
}

// Addr returns the bound address once started.
func (s *httpServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *httpServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	done := s.done
	s.listener = nil
	s.mu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	<-done
	s.log.Info("http server stopped")
	return nil
}
