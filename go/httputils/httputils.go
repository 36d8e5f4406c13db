// Package httputils contains helpers for HTTP servers.
package httputils

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/sklog"
)

const (
	// ReadTimeout and WriteTimeout for servers returned by NewServer.
	ReadTimeout  = 5 * time.Minute
	WriteTimeout = 5 * time.Minute
)

// ReportError formats an HTTP error response and also logs the detailed error message.
// The message parameter is returned in the HTTP response. If it is not provided then
// "Unknown error" will be returned instead.
func ReportError(w http.ResponseWriter, err error, message string, code int) {
	sklog.Error(message, err)
	if err != io.ErrClosedPipe {
		httpErrMsg := message
		if message == "" {
			httpErrMsg = "Unknown error"
		}
		http.Error(w, httpErrMsg, code)
	}
}

// responseProxy implements http.ResponseWriter and records the status codes.
type responseProxy struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rp *responseProxy) WriteHeader(code int) {
	if !rp.wroteHeader {
		metrics2.GetCounter("http_response", map[string]string{"statuscode": strconv.Itoa(code)}).Inc(1)
		rp.ResponseWriter.WriteHeader(code)
		rp.wroteHeader = true
	}
}

// LoggingRequestResponse records parts of the request and the response to the logs.
func LoggingRequestResponse(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				sklog.Errorf("panic serving %v: %v", r.URL.Path, err)
				http.Error(w, "Server error", http.StatusInternalServerError)
			}
		}()
		sklog.Infof("Request: %s %s", r.Method, r.RequestURI)
		h.ServeHTTP(&responseProxy{ResponseWriter: w}, r)
	})
}

// HealthzHandler returns 200 OK, for use as a liveness probe target.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// NewServer returns an *http.Server with sane timeouts for the given handler.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
	}
}
