package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

const slowRequest = 5 * time.Second

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queuetrends_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queuetrends_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route"})

	registerOnce sync.Once
)

func init() {
	RegisterMetrics(prometheus.DefaultRegisterer)
}

// RegisterMetrics registers the HTTP collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(httpRequests, httpDuration)
	})
}

// responseWriter records the status code. It passes Hijack through so the
// websocket upgrade still works behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeOf labels by path template so counter codes and device ids do not
// explode metric cardinality.
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// instrument tags every request with an id, records metrics and logs slow
// requests.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := routeOf(r)
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		if elapsed >= slowRequest {
			log.Printf("Slow request %s %s took %v (id %s, status %d)", r.Method, r.URL.Path, elapsed.Round(time.Millisecond), id, rw.statusCode)
		}
	})
}
