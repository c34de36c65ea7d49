package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Agent metrics
var (
	PTYBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellrelay_pty_bytes_total",
			Help: "Bytes forwarded between the transport and the PTY",
		},
		[]string{"direction"}, // "in" (to the shell) or "out" (from the shell)
	)

	ShellRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shellrelay_shell_restarts_total",
			Help: "Number of times the shell was restarted after exiting",
		},
	)

	ShellState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shellrelay_shell_state",
			Help: "1 for the current shell lifecycle state, 0 otherwise",
		},
		[]string{"state"},
	)

	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellrelay_publish_errors_total",
			Help: "Failed publish attempts, retried by the caller",
		},
		[]string{"channel"},
	)

	OutputDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shellrelay_output_dropped_bytes_total",
			Help: "Shell output bytes given up on at agent shutdown or transport close",
		},
	)

	ResizeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellrelay_resize_events_total",
			Help: "Resize events received on the resize channel",
		},
		[]string{"result"}, // "applied", "malformed", "failed"
	)
)

// HTTP metrics for the health endpoint
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PTYBytes,
		ShellRestarts,
		ShellState,
		PublishErrors,
		OutputDropped,
		ResizeEvents,
		HTTPRequestsTotal,
	)
}

// SetShellState marks state as the current one among states.
func SetShellState(state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		ShellState.WithLabelValues(s).Set(v)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			return err
		}
	}
}
