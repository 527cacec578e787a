package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/wmca-epc/internal/config"
	"github.com/wmca-epc/internal/store"
)

// Config holds the review server settings.
type Config struct {
	Host string
	Port int
}

// DefaultConfig returns the server settings, overridable via environment.
func DefaultConfig() Config {
	return Config{
		Host: config.GetEnv("WEB_HOST", "0.0.0.0"),
		Port: config.GetEnvInt("WEB_PORT", 8080),
	}
}

// Server is a read-only review surface over the results store: run
// summaries, per-property results, and CSV export of the final dataset.
type Server struct {
	config     Config
	db         *sql.DB
	results    *store.ResultStore
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a review server over an open database connection.
func NewServer(config Config, db *sql.DB) *Server {
	s := &Server{
		config:  config,
		db:      db,
		results: store.NewResultStore(db),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id:[0-9]+}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id:[0-9]+}/export", s.handleExport).Methods("GET")
	api.HandleFunc("/properties/{uprn}", s.handleGetProperty).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Starting review server on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	<-stop
	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		fmt.Printf("Server shutdown error: %v\n", err)
	}

	fmt.Println("Server stopped")
	return nil
}
