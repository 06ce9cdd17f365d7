package control

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 60 * time.Second // stop and restart wait for kill_timeout
	idleTimeout  = 60 * time.Second
)

// Server serves the control API
type Server struct {
	address    string
	httpServer *http.Server
	listener   net.Listener
	logger     logging.Logger

	done  chan struct{}
	mutex sync.Mutex
}

func NewServer(address string, handler http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		address: address,
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		logger: logger,
	}
}

// Start binds the address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return errors.NewConflictError("control server already started", nil)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return errors.NewNetworkError("failed to listen", err).WithContext("address", s.address)
	}
	s.listener = listener
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Infof("Control API listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Control API server error: %v", err)
		}
	}()

	return nil
}

// Addr is the bound address, useful with port 0
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	done := s.done
	started := s.listener != nil
	s.mutex.Unlock()

	if !started {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.NewTimeoutError("control server forced to shut down", err)
	}
	<-done

	s.logger.Infof("Control API stopped")
	return nil
}
