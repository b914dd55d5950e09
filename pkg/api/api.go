package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/ethpandaops/authoor/pkg/directory"
	"github.com/ethpandaops/authoor/pkg/metrics"
	"github.com/ethpandaops/authoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	dir        directory.Directory
	authn      *auth.Authenticator
	authz      *auth.Authorizer
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start initializes the store, seeds config data, and starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Provision roles and config-defined users.
	if err := s.store.SeedRoles(ctx, s.cfg.Auth.Roles); err != nil {
		return fmt.Errorf("seeding roles: %w", err)
	}

	if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
		return fmt.Errorf("seeding users: %w", err)
	}

	// Connect the directory adapter when directory mode is enabled.
	if s.cfg.Directory.Enabled {
		s.dir = directory.NewClient(s.log, &s.cfg.Directory)

		s.log.WithField("host", s.cfg.Directory.Host).
			Info("Directory authentication enabled")
	}

	s.authn = auth.NewAuthenticator(
		s.log, &s.cfg.Auth, &s.cfg.Directory, s.store, s.dir,
	)
	s.authz = auth.NewAuthorizer(s.log, &s.cfg.Directory, s.dir)

	// Build router and start HTTP server.
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start session cleanup goroutine.
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.store.DeleteExpiredSessions(ctx); err != nil {
					s.log.WithError(err).
						Warn("Failed to clean expired sessions")
				}

				s.updateSessionGauge(ctx)
			case <-s.done:
				return
			}
		}
	}()

	s.updateSessionGauge(ctx)

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// updateSessionGauge refreshes the active session count metric.
func (s *server) updateSessionGauge(ctx context.Context) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return
	}

	metrics.SessionsActive.Set(float64(len(sessions)))
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.dir != nil {
		s.dir.Close()
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
