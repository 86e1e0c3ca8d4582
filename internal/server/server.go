// Package server runs the broker's HTTP listener
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"token-broker/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	listener net.Listener
	tlsCert  string
	tlsKey   string
	logger   logging.Logger
}

// New creates a new server instance. TLS is used when both tlsCert and tlsKey are set.
func New(handler http.Handler, port, tlsCert, tlsKey string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		logger:  logging.OrGlobal(logger),
	}
}

// Start binds the listener and serves in the background. The returned channel
// receives the error that stopped serving, and is closed after a clean shutdown.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln

	useTLS := s.tlsCert != "" && s.tlsKey != ""
	if useTLS {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)

		var err error
		if useTLS {
			err = s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.logger.Info("HTTP server listening",
		logging.String("address", ln.Addr().String()),
		logging.Field{Key: "tls", Value: useTLS})
	return errCh, nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
