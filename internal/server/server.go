package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"payments-portal/internal/auth"
	"payments-portal/internal/cache"
	"payments-portal/internal/config"
	"payments-portal/internal/handler"
	"payments-portal/internal/repository"
	"payments-portal/internal/service"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	redis  *redis.Client
	logger *slog.Logger
	port   string
}

// NewServer connects the backing stores and wires every service and route.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := repository.Open(cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to database")

	store := repository.NewStore(db, logger, cfg.DBTimeout)

	// A nil interface disables caching; never assign a typed nil here.
	var summaryCache service.SummaryCache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			db.Close()
			return nil, err
		}
		summaryCache = cache.NewViewCache[service.DashboardSummary](rdb, cfg.DashboardCacheTTL, logger)
		logger.Info("Dashboard cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.DashboardCacheTTL)
	}

	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	dashboardService := service.NewDashboardService(store, summaryCache, logger)
	transactionService := service.NewTransactionService(store, dashboardService, logger, cfg.PaginationMaxLimit)
	lockout := service.NewLockoutTracker(store, cfg.Lockout.MaxAttempts, cfg.Lockout.Duration, logger)
	accountService := service.NewAccountService(store, lockout, tokens, logger)

	accountHandler := handler.NewAccountHandler(accountService, logger, cfg.IsDevelopment())
	transactionHandler := handler.NewTransactionHandler(transactionService, dashboardService, logger, cfg.IsDevelopment())

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	handler.RegisterRoutes(router, accountHandler, transactionHandler, tokens)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		db:     db,
		redis:  rdb,
		logger: logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests, then releases the stores.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// StartServer builds a server from cfg and starts listening. A port of
// "0" picks a free port and silences logging, which is what tests use.
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
