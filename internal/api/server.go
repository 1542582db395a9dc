package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	_defaultAddr            = ":8080"
	_defaultShutdownTimeout = 3 * time.Second
)

type Server struct {
	server          *http.Server
	notify          chan error
	shutdownTimeout time.Duration
	log             *slog.Logger
}

type Option func(*Server)

func Addr(addr string) Option {
	return func(s *Server) {
		s.server.Addr = addr
	}
}

func ShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// New starts serving handler in the background. Serve errors are delivered
// on Notify.
func New(handler http.Handler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		server: &http.Server{
			Handler:           handler,
			Addr:              _defaultAddr,
			ReadHeaderTimeout: 5 * time.Second,
		},
		notify:          make(chan error, 1),
		shutdownTimeout: _defaultShutdownTimeout,
		log:             logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.start()
	return s
}

func (s *Server) start() {
	s.log.Info("starting status api", slog.String("addr", s.server.Addr))
	go func() {
		s.notify <- s.server.ListenAndServe()
		close(s.notify)
	}()
}

func (s *Server) Notify() <-chan error {
	return s.notify
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
