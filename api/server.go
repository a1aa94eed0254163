// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server serves the control API on a TCP address.
type Server struct {
	address    string
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	// Address is the TCP listen address, such as "127.0.0.1:8437".
	// Port 0 picks a free port; see Server.Addr.
	Address string

	Sessions Sessions
	Images   Images
	Logger   *slog.Logger
}

// NewServer creates a control API server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("api: listen address is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("api: sessions are required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := NewHandler(config.Sessions, config.Images, logger)
	return &Server{
		address: config.Address,
		httpServer: &http.Server{
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Detach waits out its grace period before responding.
			WriteTimeout: 2 * time.Minute,
		},
		logger: logger,
	}, nil
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", s.address, err)
	}
	s.listener = listener

	s.logger.Info("control API started", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight
// requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
