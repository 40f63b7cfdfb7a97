// Package api provides the HTTP and gRPC server for tickwise: backtest runs,
// the run stream, and read-only views of the recommendations feed.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tickwise/internal/config"
	"tickwise/internal/domain"
	"tickwise/internal/engine"
	"tickwise/internal/feed"
	"tickwise/internal/runstate"
)

// Backtester runs one backtest; *engine.Backtester satisfies it.
type Backtester interface {
	Run(ctx context.Context, history []domain.RecommendationRecord, p engine.Params) (*domain.BacktestResult, error)
}

// Deps are the collaborators the server reads from.
type Deps struct {
	Docs       *feed.Documents
	Prices     feed.PriceProvider
	Backtester Backtester
	Runs       *runstate.Store
	// Defaults fill the parameters a request leaves out.
	Defaults engine.Params
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg    config.Server
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger

	health *health.Server
}

// NewServer creates a new Server configured from the given server section.
func NewServer(cfg config.Server, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		log:    log.With().Str("component", "api").Logger(),
		health: health.NewServer(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/backtest", func(r chi.Router) {
			r.Post("/", s.handleBacktest)
			r.Get("/latest", s.handleLatestRun)
			r.Get("/stream", s.handleRunStream)
		})
		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/", s.handleRecommendations)
			r.Get("/preview", s.handlePreview)
			r.Get("/ranges", s.handleRanges)
			r.Get("/summary", s.handleSummary)
		})
		r.Route("/tickers/{ticker}", func(r chi.Router) {
			r.Get("/scores", s.handleScores)
			r.Get("/prices", s.handlePrices)
			r.Get("/forecast", s.handleForecast)
		})
	})
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// ListenAndServe starts the HTTP listener and, when configured, the gRPC
// listener, and blocks until ctx is cancelled or a listener fails. On
// cancellation both servers are shut down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.HTTPAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *grpc.Server
	errCh := make(chan error, 2)

	if addr := s.cfg.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		s.RegisterGRPC(grpcSrv)
		go func() {
			s.log.Info().Str("addr", addr).Msg("grpc listening")
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		s.log.Info().Str("addr", httpSrv.Addr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.health.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if shutdownErr := httpSrv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	s.log.Info().Msg("server stopped")
	return err
}

// RegisterGRPC registers the backtest and health services on g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	g.RegisterService(&backtestServiceDesc, &backtestService{srv: s})
	healthpb.RegisterHealthServer(g, s.health)
	s.health.SetServingStatus(BacktestServiceName, healthpb.HealthCheckResponse_SERVING)
}
