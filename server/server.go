// Package server implements the connection state machine and the
// fan-out engine that together form the core of the relay.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opusrelay/qvox/authz"
	"github.com/opusrelay/qvox/config"
	"github.com/opusrelay/qvox/registry"
)

// Server owns the registry, the authorization client and the loaded
// config, and drives the QUIC accept loop. Its only other state is the
// bound listener address; everything per-connection lives in a
// *connection value.
type Server struct {
	config   *config.Config
	registry *registry.Registry
	authz    *authz.Client
	logger   zerolog.Logger

	addrMu   sync.Mutex
	addrCond *sync.Cond
	addr     string
}

// New builds a Server around an explicitly owned Registry. There is
// no process-wide singleton, so a process can run more than one relay.
func New(cfg *config.Config, reg *registry.Registry) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		authz:    authz.New(),
		logger:   log.With().Str("com", "server").Logger(),
	}
	s.addrCond = sync.NewCond(&s.addrMu)
	return s
}

// Registry exposes the shared registry for the introspection HTTP
// handlers, which read from it but never mutate it.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Start opens the QUIC listener and accepts connections until ctx is
// canceled. A per-connection failure never stops the accept loop; only
// a listener-level failure returns an error.
func (s *Server) Start(ctx context.Context) error {
	ln, err := listen(s.config.QuicPort)
	if err != nil {
		return fmt.Errorf("start quic listener: %w", err)
	}
	defer ln.Close()

	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.addrCond.Broadcast()

	s.logger.Info().Uint16("port", s.config.QuicPort).Str("alpn", ALPN).Msg("quic listener started")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("accept connection failed")
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Addr blocks until the QUIC listener has bound a socket and returns
// its address. Intended for tests that start the server on an
// ephemeral port (QuicPort 0) and need to know which one was chosen.
func (s *Server) Addr() string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	for s.addr == "" {
		s.addrCond.Wait()
	}
	return s.addr
}

// handleConnection runs one connection's state machine to completion.
// Every error path is absorbed here: the listener task must never be
// blocked or aborted by a single connection's failure.
func (s *Server) handleConnection(ctx context.Context, conn *quic.Conn) {
	c := newConnection(ctx, s, conn)
	c.run()
}
