package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/roomly/core/booking"
)

// Metrics holds the API's Prometheus collectors, in a registry of its own.
type Metrics struct {
	registry        *prometheus.Registry
	bookingsCreated prometheus.Counter
	bookingConflict prometheus.Counter
	requests        *prometheus.CounterVec
}

var _ booking.Metrics = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomly_bookings_created_total",
			Help: "Number of bookings created.",
		}),
		bookingConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomly_booking_conflicts_total",
			Help: "Number of bookings rejected because of overlapping bookings.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomly_http_requests_total",
			Help: "Number of HTTP requests by method, route and status code.",
		}, []string{"method", "path", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bookingsCreated,
		m.bookingConflict,
		m.requests,
	)
	return m
}

func (m *Metrics) BookingCreated()  { m.bookingsCreated.Inc() }
func (m *Metrics) BookingConflict() { m.bookingConflict.Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// middleware counts requests by route pattern, so that path params do not explode the label space.
func (m *Metrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if err := next(ctx); err != nil {
				// let the error handler write the response, so that its status gets counted
				ctx.Error(err)
			}
			code := strconv.Itoa(ctx.Response().Status)
			m.requests.WithLabelValues(ctx.Request().Method, ctx.Path(), code).Inc()
			return nil
		}
	}
}
