// Package server implements the realtime messaging and presence layer:
// websocket sessions authenticated against the shared web-session store, a
// presence registry, the relationship-gated DM pipeline, and the HTTP
// endpoints the realtime core collaborates with.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedwire/feedwire/pkg/database"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

func init() {
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// Server is the realtime feedwire server
type Server struct {
	db         *database.DB
	registry   *Registry
	dispatcher *Dispatcher
	gate       *Gate
	config     ServerConfig
	metrics    *Metrics

	httpListener  net.Listener
	httpServer    *http.Server
	metricsServer *http.Server

	shutdown  chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	nextSessionID uint64

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// NewServer creates a new server instance
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	metrics := NewMetrics()
	registry := NewRegistry()

	server := &Server{
		db:         db,
		registry:   registry,
		dispatcher: NewDispatcher(registry, metrics),
		gate:       NewGate(db),
		config:     config,
		metrics:    metrics,
		shutdown:   make(chan struct{}),
		startTime:  time.Now(),
	}

	return server, nil
}

// EnableDebugLogging turns on per-session debug logging to stderr
func (s *Server) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Dispatcher exposes the notification capability to collaborating handlers
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// routes builds the public API mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Auth collaborator surface
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/me", s.handleMe)

	// Messaging policy and conversation queries
	mux.HandleFunc("POST /api/settings/dm_follow_only", s.handleSetDMFollowOnly)
	mux.HandleFunc("GET /api/users/{id}/canDM", s.handleCanDM)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/search/users", s.handleSearchUsers)

	// Mutation flows that push notifications through the dispatcher
	mux.HandleFunc("POST /api/users/{id}/follow", s.handleFollow)
	mux.HandleFunc("POST /api/users/{id}/unfollow", s.handleUnfollow)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)

	// Realtime endpoint
	mux.HandleFunc("/ws", s.HandleWebSocket)

	return mux
}

// Start starts the public HTTP listener and background loops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpListener = listener

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Public HTTP server listening on %s (/api, /ws)", listener.Addr())
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	// Internal metrics server - never expose publicly
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Printf("Metrics server listening on :%d (/metrics, /health) - INTERNAL ONLY", s.config.MetricsPort)
			if err := s.metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				errorLog.Printf("Metrics server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.authSessionCleanupLoop()

	return nil
}

// Addr returns the address the public listener is bound to. Useful when the
// configured port is 0.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.httpServer.Close()
		}
		cancel()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}

	// Close all live sessions; each close unregisters synchronously
	sessions := s.registry.Sessions()
	if len(sessions) > 0 {
		log.Printf("Closing %d client sessions...", len(sessions))
		for _, sess := range sessions {
			s.closeSession(sess)
		}
	}

	log.Println("Waiting for background goroutines to finish...")
	s.wg.Wait()

	log.Println("Closing database...")
	if err := s.db.Close(); err != nil {
		errorLog.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// metricsLoggingLoop periodically logs key counters
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Active sessions: %d, connected since last: %d, disconnected since last: %d",
				s.registry.Count(), connected, disconnected)
		}
	}
}

// authSessionCleanupLoop periodically deletes expired web sessions
func (s *Server) authSessionCleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			count, err := s.db.CleanupExpiredAuthSessions()
			if err != nil {
				errorLog.Printf("Auth session cleanup failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("Cleaned up %d expired auth sessions", count)
			}
		}
	}
}
