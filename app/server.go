package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"collab-sync/pkg/auth"
	"collab-sync/pkg/broker"
	"collab-sync/pkg/collab"
	"collab-sync/pkg/config"
	"collab-sync/pkg/db"
	"collab-sync/pkg/handlers"
	"collab-sync/pkg/room"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

// Server represents the application server
type Server struct {
	router      *mux.Router
	roomManager *room.RoomManager
	broker      broker.Broker
	store       *db.Store
	config      *config.Config
	logger      *slog.Logger
}

// NewServer opens the store and the broker and wires the HTTP routes.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := db.Open(cfg.DBDriver, cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	logger.Info("database ready", "driver", store.Driver())

	var b broker.Broker
	if cfg.RedisAddr != "" {
		b, err = broker.NewRedisBroker(ctx, cfg.RedisAddr, logger)
		if err != nil {
			store.Close()
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		logger.Info("using redis broker", "addr", cfg.RedisAddr)
	} else {
		b = broker.NewLocalBroker()
	}

	checker := auth.NewStoreChecker(store)
	service := collab.NewService(store, checker,
		collab.WithSnapshotInterval(cfg.SnapshotInterval),
		collab.WithLogger(logger))
	roomManager := room.NewRoomManager(service, checker, b, logger)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	h := handlers.NewHandlers(roomManager, service, verifier, checker, cfg.AllowedOrigin, logger)

	r := mux.NewRouter()
	r.Use(accessLog(logger))
	h.Routes(r)

	return &Server{
		router:      r,
		roomManager: roomManager,
		broker:      b,
		store:       store,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Handler returns the router wrapped in the CORS layer.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.config.AllowedOrigin, s.router)
}

// Run serves until ctx is cancelled, then drains connections and rooms.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.GetServerAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting collaboration server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "err", err)
	}
	if err := s.roomManager.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("room shutdown", "err", err)
	}
	return nil
}

// accessLog logs one line per request with its status and duration.
func accessLog(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("handled", "method", r.Method, "path", r.URL.Path, "status", m.Code, "duration", m.Duration)
		})
	}
}

// corsMiddleware handles CORS headers and responds to preflight requests
// at the outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(allowed string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowed != "" && allowed != "*":
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		case origin != "":
			w.Header().Set("Access-Control-Allow-Origin", origin)
		default:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close releases the broker and the database.
func (s *Server) Close() error {
	if err := s.broker.Close(); err != nil {
		s.logger.Warn("broker close", "err", err)
	}
	return s.store.Close()
}
