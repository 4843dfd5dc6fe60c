package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ForecastPool/internal/engine"
	"ForecastPool/internal/observability"
	"ForecastPool/internal/query"
	"ForecastPool/internal/receipt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the read-only HTTP query surface plus operational endpoints.
// Mutations never enter over HTTP: they arrive through the embedding
// process, keeping the engine's single-writer discipline intact.
type Server struct {
	echo    *echo.Echo
	addr    string
	svc     *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
	Gatherer     prometheus.Gatherer
}

func New(opts Options, svc *query.Service, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = opts.ReadTimeout
	e.Server.WriteTimeout = opts.WriteTimeout
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		addr:    opts.Addr,
		svc:     svc,
		health:  health,
		metrics: metrics,
		log:     log,
	}
	s.registerRoutes(opts)
	return s
}

func (s *Server) registerRoutes(opts Options) {
	s.echo.Use(s.instrument)

	api := s.echo.Group("/api/v1")
	api.GET("/markets", s.listMarkets)
	api.GET("/markets/:id", s.getMarket)
	api.GET("/markets/:id/outstanding", s.getOutstanding)
	api.GET("/receipts/:receipt/holders/:holder", s.getBalance)
	api.GET("/sequence", s.getSequence)

	s.echo.GET("/healthz", echo.WrapHandler(http.HandlerFunc(s.health.LivenessHandler)))
	s.echo.GET("/readyz", echo.WrapHandler(http.HandlerFunc(s.health.ReadinessHandler)))
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.echo.GET(path, echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// instrument records per-route request counts and latency.
func (s *Server) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if s.metrics != nil {
			route := c.Path()
			status := strconv.Itoa(c.Response().Status)
			s.metrics.QueryRequests.WithLabelValues(route, status).Inc()
			s.metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		return err
	}
}

func (s *Server) listMarkets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"markets": s.svc.Markets()})
}

func (s *Server) getMarket(c echo.Context) error {
	id, err := receipt.ParseMarketID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed market id")
	}
	resp, err := s.svc.Market(id)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getOutstanding(c echo.Context) error {
	id, err := receipt.ParseMarketID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed market id")
	}
	total, err := s.svc.Outstanding(id)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]uint64{"outstanding": total})
}

func (s *Server) getBalance(c echo.Context) error {
	rid, err := receipt.Parse(c.Param("receipt"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed receipt id")
	}
	holder, err := uuid.Parse(c.Param("holder"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed holder id")
	}
	return c.JSON(http.StatusOK, map[string]uint64{"balance": s.svc.Balance(rid, holder)})
}

func (s *Server) getSequence(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int64{"sequence": s.svc.Sequence()})
}

func mapDomainError(err error) error {
	if errors.Is(err, engine.ErrUnknownMarket) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown market")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
