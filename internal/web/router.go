package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// RequestIDHeader carries the request id echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Router wraps a ServeMux and logs every request with its status and duration.
type Router struct {
	mux *http.ServeMux
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{mux: http.NewServeMux()}
}

// GET registers handler for GET requests on pattern.
func (r *Router) GET(pattern string, handler http.HandlerFunc) {
	r.mux.HandleFunc(http.MethodGet+" "+pattern, handler)
}

// POST registers handler for POST requests on pattern.
func (r *Router) POST(pattern string, handler http.HandlerFunc) {
	r.mux.HandleFunc(http.MethodPost+" "+pattern, handler)
}

// Handle registers handler for every method on pattern.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	r.mux.ServeHTTP(lrw, req)

	logf := logger.Infof
	if lrw.statusCode >= http.StatusInternalServerError {
		logf = logger.Warnf
	}
	logf("HTTP %s %s %d (%v) request_id=%s", req.Method, req.URL.Path, lrw.statusCode, time.Since(start), requestID)
}

// loggingResponseWriter captures the status code written by a handler.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
