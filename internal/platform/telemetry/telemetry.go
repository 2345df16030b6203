// Package telemetry exposes Prometheus metrics and OpenTelemetry spans for
// the HTTP server and the scheduling engine.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "frontdesk"

// Config controls which signals the Provider records.
type Config struct {
	ServiceName    string
	MetricsEnabled bool
	TracingEnabled bool
}

// Provider owns the metrics registry and the HTTP instrumentation.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry
	tracer   trace.Tracer

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewProvider(cfg Config) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "frontdesk"
	}
	reg := prometheus.NewRegistry()
	p := &Provider{
		cfg:      cfg,
		registry: reg,
		tracer:   otel.Tracer(cfg.ServiceName + ".http"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served",
		}),
	}
	reg.MustRegister(p.requests, p.duration, p.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Registerer is where other components register their collectors.
func (p *Provider) Registerer() prometheus.Registerer { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
	return echo.WrapHandler(h)
}

func route(c echo.Context) string {
	if r := c.Path(); r != "" {
		return r
	}
	return "unmatched"
}

// statusOf returns the status the error handler will write for err.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// MetricsMiddleware records request count, latency and concurrency.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.MetricsEnabled {
				return next(c)
			}
			p.inflight.Inc()
			start := time.Now()
			err := next(c)
			p.inflight.Dec()

			method, rt := c.Request().Method, route(c)
			p.duration.WithLabelValues(method, rt).Observe(time.Since(start).Seconds())
			p.requests.WithLabelValues(method, rt, strconv.Itoa(statusOf(c, err))).Inc()
			return err
		}
	}
}

// TracingMiddleware opens a server span named after the route pattern.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.TracingEnabled {
				return next(c)
			}
			req := c.Request()
			ctx, span := p.tracer.Start(req.Context(), "HTTP "+req.Method+" "+route(c),
				trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := statusOf(c, err)
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route(c)),
				attribute.Int("http.status_code", status),
			)
			if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
				span.SetAttributes(attribute.String("tenant.id", tid))
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return err
		}
	}
}
