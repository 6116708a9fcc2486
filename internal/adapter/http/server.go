package http

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/repository"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/usecase/position"
)

// OrderService places and cancels orders
type OrderService interface {
	PlaceOrder(ctx context.Context, params *entity.OrderParams) (*entity.Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*entity.Order, error)
}

// OrderQuery lists orders
type OrderQuery interface {
	ListActive(ctx context.Context, instrument string) []*entity.Order
	ListHistory(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
}

// PositionService lists and reconciles positions
type PositionService interface {
	ListAll(ctx context.Context, includeClosed bool) ([]*entity.Position, error)
	SyncPositions(ctx context.Context) (position.SyncReport, error)
}

// TradeService reports on recorded fills
type TradeService interface {
	Trades(ctx context.Context, filter repository.TradeFilter) ([]*entity.Trade, error)
	Statistics(ctx context.Context, instrument, strategyID string) (*position.TradeStatistics, error)
}

// PerformanceService computes performance over a period
type PerformanceService interface {
	CalculatePerformance(ctx context.Context, start, end time.Time, filter position.PerformanceFilter) (*position.PerformanceMetrics, error)
}

// Services bundles the use cases exposed over HTTP
type Services struct {
	Orders      OrderService
	OrderQuery  OrderQuery
	Positions   PositionService
	Trades      TradeService
	Performance PerformanceService
	Status      func() map[string]interface{}
}

// Config contains HTTP server settings
type Config struct {
	Addr string `yaml:"addr"`
}

// Server serves the trading API
type Server struct {
	cfg  Config
	svc  Services
	log  *logger.Logger
	http *http.Server
}

// NewServer creates a new API server
func NewServer(cfg Config, svc Services, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: log.WithField("component", "http"),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.handleHealth)
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	api := r.Group("/api")

	orders := api.Group("/orders")
	orders.POST("", s.handlePlaceOrder)
	orders.GET("", s.handleListOrders)
	orders.GET("/:id", s.handleGetOrder)
	orders.DELETE("/:id", s.handleCancelOrder)

	positions := api.Group("/positions")
	positions.GET("", s.handleListPositions)
	positions.POST("/sync", s.handleSyncPositions)

	trades := api.Group("/trades")
	trades.GET("", s.handleListTrades)
	trades.GET("/stats", s.handleTradeStats)

	api.GET("/performance", s.handlePerformance)

	return r
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info("HTTP server listening on %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrRiskRejected), errors.Is(err, entity.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entity.ErrOrderNotFound), errors.Is(err, entity.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrExchangeRejected):
		return http.StatusBadGateway
	case errors.Is(err, entity.ErrTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	body := gin.H{"error": err.Error()}
	var ee *entity.ExchangeError
	if errors.As(err, &ee) {
		body["code"] = ee.Code
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
