// Package api exposes prices and alert management over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"price-alerts/internal/alert"
	"price-alerts/internal/quote"
)

// OwnerHeader carries the authenticated user id set by the gateway.
const OwnerHeader = "X-User-ID"

// QuoteService is the fetcher surface used by the price routes.
type QuoteService interface {
	GetCurrentQuote(ctx context.Context) (quote.Quote, error)
	InvalidateAndRefetch(ctx context.Context) (quote.Quote, error)
}

// AlertRegistry is the registry surface used by the alert routes.
type AlertRegistry interface {
	Create(ctx context.Context, ownerID string, bounds alert.Bounds) (alert.Alert, error)
	ListByOwner(ctx context.Context, ownerID string) ([]alert.Alert, error)
	Get(ctx context.Context, id int64) (alert.Alert, error)
	Update(ctx context.Context, id int64, p alert.Patch) (alert.Alert, error)
	SoftDelete(ctx context.Context, id int64) (alert.Alert, error)
}

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

// Options carry optional collaborators.
type Options struct {
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
}

type handler struct {
	quotes QuoteService
	alerts AlertRegistry
	checks map[string]HealthCheck
	logger zerolog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(quotes QuoteService, alerts AlertRegistry, opts Options, logger zerolog.Logger) *gin.Engine {
	h := &handler{
		quotes: quotes,
		alerts: alerts,
		checks: opts.Checks,
		logger: logger.With().Str("component", "http_api").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/health", h.health)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	prices := r.Group("/prices")
	prices.GET("/current", h.currentPrice)
	prices.POST("/refresh", h.refreshPrice)

	alertRoutes := r.Group("/alerts", requireOwner())
	alertRoutes.POST("", h.createAlert)
	alertRoutes.GET("", h.listAlerts)
	alertRoutes.GET("/:id", h.getAlert)
	alertRoutes.PUT("/:id", h.updateAlert)
	alertRoutes.DELETE("/:id", h.deleteAlert)

	return r
}

// NewServer wraps the router in an http.Server.
func NewServer(addr string, readTimeout time.Duration, router http.Handler) *http.Server {
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}
}

func (h *handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		event := h.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = h.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (h *handler) health(c *gin.Context) {
	results := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"success": status == http.StatusOK,
		"data":    gin.H{"status": state, "checks": results},
	})
}
