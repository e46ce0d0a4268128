package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/foodguard/internal/database"
	"github.com/franckalain/foodguard/internal/lookup"
	"github.com/franckalain/foodguard/internal/models"
	"github.com/franckalain/foodguard/internal/scanner"
)

// Service is what the transport layer needs from the application.
type Service interface {
	Scan(ctx context.Context, barcode string) (*models.Scan, error)
	Analyze(ctx context.Context, record models.ProductRecord) (*models.Scan, error)
	Ask(ctx context.Context, scanID, question string) (models.ConversationSession, error)
	Session(ctx context.Context, scanID string) (models.ConversationSession, error)
	Get(ctx context.Context, scanID string) (*models.Scan, error)
	History(ctx context.Context, limit int) ([]*models.Scan, error)
	DeleteHistory(ctx context.Context, ids []string) (int64, error)
	Preferences(ctx context.Context) (models.PreferenceProfile, error)
	UpdatePreferences(ctx context.Context, prefs models.PreferenceProfile) (models.PreferenceProfile, error)
}

// Server exposes a Service over REST and a websocket.
type Server struct {
	svc       Service
	metrics   http.Handler
	staticDir string
	logger    *zap.Logger
	clients   sync.Map
	upgrader  websocket.Upgrader
}

// New creates a server. metrics and staticDir are optional.
func New(svc Service, metrics http.Handler, staticDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:       svc,
		metrics:   metrics,
		staticDir: staticDir,
		logger:    logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the app is served from the same origin or a native client
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/scans", s.handleCreateScan)
		api.Get("/scans", s.handleListScans)
		api.Delete("/scans", s.handleDeleteScans)
		api.Get("/scans/{id}", s.handleGetScan)
		api.Get("/scans/{id}/messages", s.handleGetMessages)
		api.Post("/scans/{id}/messages", s.handlePostMessage)
		api.Post("/analyze", s.handleAnalyze)
		api.Get("/preferences", s.handleGetPreferences)
		api.Put("/preferences", s.handlePutPreferences)
	})

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
// and closes open websocket connections.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.closeClients()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) closeClients() {
	s.clients.Range(func(key, value any) bool {
		if conn, ok := value.(*websocket.Conn); ok {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		s.clients.Delete(key)
		return true
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// errorStatus maps service errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lookup.ErrInvalidBarcode),
		errors.Is(err, scanner.ErrEmptyQuestion),
		errors.Is(err, scanner.ErrEmptyProduct):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, lookup.ErrProductNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "scan not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
