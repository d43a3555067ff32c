package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tphakala/qcmigrate/internal/logger"
	metricspkg "github.com/tphakala/qcmigrate/internal/observability/metrics"
)

// Endpoint serves Prometheus metrics and a liveness probe over HTTP while
// a migration runs.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	log           logger.Logger
	started       time.Time
}

// NewEndpoint creates an endpoint for listenAddress. It does not start listening.
func NewEndpoint(listenAddress string, metrics *Metrics, log logger.Logger) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, errors.New("metrics listen address is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics are required")
	}
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
		log:           log.Module("metrics"),
	}, nil
}

// Router returns the routes served by the endpoint.
func (e *Endpoint) Router() *echo.Echo {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true

	router.GET("/metrics", echo.WrapHandler(e.metrics.Handler()))
	router.GET("/healthz", e.health)
	return router
}

func (e *Endpoint) health(c echo.Context) error {
	uptime := time.Duration(0)
	if !e.started.IsZero() {
		uptime = time.Since(e.started).Round(time.Second)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": uptime.String(),
	})
}

// Start binds the listener and serves until quitChan closes. Binding errors
// are returned immediately so a taken port fails the command.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           e.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return err
	}
	e.started = time.Now()

	wg.Go(func() {
		e.log.Info("metrics endpoint starting", logger.String("address", listener.Addr().String()))
		if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() { e.gracefulShutdown(quitChan) })
	return nil
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	e.log.Debug("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("metrics server shutdown error", logger.Error(err))
	}
}
