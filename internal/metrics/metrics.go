// Package metrics holds the broker's Prometheus collectors: room and frame
// activity from the websocket side plus per-route HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codesync"

/*** Rooms and frames ***/

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms with at least one connection on this instance",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Open room websocket connections on this instance",
	})

	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Frames received from clients by type",
	}, []string{"type"})

	DecodeFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_faults_total",
		Help:      "Client frames dropped because they could not be decoded",
	})

	RelayedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relayed_frames_total",
		Help:      "Frames exchanged with other broker instances",
	}, []string{"direction"})

	PresenceEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_evictions_total",
		Help:      "Roster entries removed by the presence sweeper",
	})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Code executions by language and outcome",
	}, []string{"language", "status"})
)

/*** HTTP ***/

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status code",
	}, []string{"route", "method", "code"})

	// Websocket upgrades are counted but not timed; they last as long as the session.
	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of plain HTTP requests",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"route", "method"})
)

// Middleware counts every request under its chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		upgrade := r.Header.Get("Upgrade") != ""
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		switch {
		case code == 0 && upgrade:
			code = http.StatusSwitchingProtocols
		case code == 0:
			code = http.StatusOK
		}
		requests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		if !upgrade {
			requestSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
