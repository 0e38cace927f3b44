package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/arex/position_tracker/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	positions *usecase.PositionService
	subs      *usecase.SubscriptionService
	oracle    domain.PriceOracle
	logger    *zap.Logger
}

func NewServer(
	port int,
	positions *usecase.PositionService,
	subs *usecase.SubscriptionService,
	oracle domain.PriceOracle,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		positions: positions,
		subs:      subs,
		oracle:    oracle,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Position lifecycle
	s.router.HandleFunc("POST /manage/{coin}", s.handleManage)
	s.router.HandleFunc("POST /extra/{coin}", s.handleExtra)

	// Subscriptions
	s.router.HandleFunc("POST /subscribe", s.handleSubscribe)
	s.router.HandleFunc("POST /unsubscribe", s.handleUnsubscribe)
	s.router.HandleFunc("GET /subscriptions", s.handleSubscriptions)

	// Read side
	s.router.HandleFunc("GET /getprice", s.handleGetPrice)
	s.router.HandleFunc("GET /trades", s.handleTrades)
	s.router.HandleFunc("GET /getbest", s.handleBestPerformers)
	s.router.HandleFunc("GET /positioncount/{coin}/{table}", s.handlePositionCount)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
