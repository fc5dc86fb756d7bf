// Copyright 2025 Certen Protocol
//
// Read-only HTTP API over the projection store: account membership
// lookups, transaction status, and the raw event log.

package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/certen/isafe-indexer/pkg/database"
)

// Server serves the iSafe indexer's read API.
type Server struct {
	db          *database.Client
	corsOrigins []string
	logger      *log.Logger
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the Server's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins sets the allowed CORS origins. A single "*" allows any
// origin.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// New builds a Server bound to db, listening on addr once ListenAndServe
// is called.
func New(db *database.Client, addr string, opts ...Option) *Server {
	s := &Server{
		db:          db,
		corsOrigins: []string{"*"},
		logger:      log.New(os.Stderr, "[isafe-api] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/accounts/", s.handleAccountsForMember)
	mux.HandleFunc("/transactions/", s.handleTransactionsForAccount)
	mux.HandleFunc("/events/", s.handleEventsForAccount)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// ListenAndServe blocks serving the API until the server errors or is shut
// down.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
