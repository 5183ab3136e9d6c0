// Package api exposes the checkout protocol over HTTP: session lifecycle,
// job submission and polling, the worker claim/complete endpoints, safety
// event listing and the prototype catalog admin surface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/jobqueue"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/observability"
)

// Controller wires the HTTP routes to the domain services.
type Controller struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Queue    *jobqueue.Service
	Settings *conf.Settings

	// jobCache holds terminal job lookups so kiosk polling loops don't hit
	// the database once a decision exists.
	jobCache *cache.Cache
	metrics  *observability.Metrics
	logger   *slog.Logger

	// onCatalogActivated is invoked after a prototype set activation so a
	// co-located worker can hot swap its index.
	onCatalogActivated func(*catalog.Index)
}

// Option configures the Controller.
type Option func(*Controller)

// WithMetrics exposes the registry on /metrics and enables API counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCatalogActivationHook registers a callback fired with the freshly
// loaded index after an activation.
func WithCatalogActivationHook(hook func(*catalog.Index)) Option {
	return func(c *Controller) { c.onCatalogActivated = hook }
}

// New creates the controller and registers all routes.
func New(settings *conf.Settings, ds datastore.Interface, queue *jobqueue.Service, opts ...Option) *Controller {
	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}

	c := &Controller{
		Echo:     echo.New(),
		DS:       ds,
		Queue:    queue,
		Settings: settings,
		jobCache: cache.New(5*time.Minute, 10*time.Minute),
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}

	c.Echo.HideBanner = true
	c.Echo.HTTPErrorHandler = c.errorHandler
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(middleware.RequestID())
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	v1 := c.Echo.Group("/api/v1")

	// Kiosk-facing session and job surface.
	v1.POST("/sessions", c.StartSession)
	v1.GET("/sessions/:uuid", c.GetSession)
	v1.POST("/sessions/:uuid/cancel", c.CancelSession)
	v1.POST("/jobs", c.CreateJob)
	v1.GET("/jobs/:id", c.GetJob)

	// Worker surface.
	v1.POST("/jobs/claim", c.ClaimJob)
	v1.POST("/jobs/:id/complete", c.CompleteJob)

	// Safety events.
	v1.GET("/events", c.ListEvents)

	// Catalog administration, gated by the shared admin key.
	admin := v1.Group("/admin", c.adminKeyMiddleware())
	admin.GET("/prototype-sets", c.ListPrototypeSets)
	admin.POST("/prototype-sets", c.CreatePrototypeSet)
	admin.POST("/prototype-sets/:id/activate", c.ActivatePrototypeSet)

	c.Echo.GET("/healthz", c.Health)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// adminKeyMiddleware requires the configured X-Admin-Key header. An empty
// configured key disables the check; that is a deliberate dev-mode escape
// hatch, flagged at startup by validation.
func (c *Controller) adminKeyMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			key := c.Settings.WebServer.AdminKey
			if key != "" && ctx.Request().Header.Get("X-Admin-Key") != key {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin key")
			}
			return next(ctx)
		}
	}
}

// Health reports liveness.
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start runs the HTTP server until Shutdown.
func (c *Controller) Start() error {
	addr := ":" + c.Settings.WebServer.Port
	c.logger.Info("http server starting", "addr", addr)
	err := c.Echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

// errorHandler maps domain sentinels onto HTTP statuses so handlers can just
// return errors.
func (c *Controller) errorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, jobqueue.ErrSessionNotFound), errors.Is(err, jobqueue.ErrJobNotFound),
		errors.Is(err, datastore.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, jobqueue.ErrDuplicateAttempt):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, jobqueue.ErrJobTerminal):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, jobqueue.ErrAttemptLimit), errors.Is(err, jobqueue.ErrSessionClosed):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, jobqueue.ErrFrameRef):
		status, message = http.StatusBadRequest, err.Error()
	default:
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			}
		} else {
			c.logger.Error("request failed",
				"path", ctx.Request().URL.Path,
				"error", err)
		}
	}

	if jerr := ctx.JSON(status, map[string]string{"error": message}); jerr != nil {
		c.logger.Error("error response failed", "error", jerr)
	}
}
