// Package middleware holds chi middleware shared across the router.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Opts contains the logger middleware configuration.
type Opts struct {
	// WithReferer enables logging the "Referer" HTTP header value.
	WithReferer bool

	// WithUserAgent enables logging the "User-Agent" HTTP header value.
	WithUserAgent bool
}

type path string

const status path = "/status"

var noisyPaths = []path{status}

// getAPIType classifies a request path for log-level purposes.
func getAPIType(r *http.Request) path {
	if strings.Contains(r.URL.Path, "/status") {
		return status
	}
	return ""
}

// NewLoggerWithMetrics returns a chi middleware that logs every request.
// Readiness polling against /status is noisy in practice (every configured
// backend gets probed up to 30 times per session create), so it logs at
// Debug; everything else logs at Info.
func NewLoggerWithMetrics(logger *zap.Logger, opts *Opts) func(next http.Handler) http.Handler {
	if logger == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts == nil {
		opts = &Opts{}
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			defer func() {
				requestDuration := time.Since(t1).Milliseconds()
				reqLogger := logger.With(
					zap.String("proto", r.Proto),
					zap.String("path", r.URL.Path),
					zap.String("reqId", middleware.GetReqID(r.Context())),
					zap.Int64("latency", requestDuration),
					zap.Int("status", ww.Status()),
					zap.Int("size", ww.BytesWritten()),
					zap.String("method", r.Method),
				)

				if opts.WithReferer {
					ref := ww.Header().Get("Referer")
					if ref == "" {
						ref = r.Header.Get("Referer")
					}
					if ref != "" {
						reqLogger = reqLogger.With(zap.String("ref", ref))
					}
				}
				if opts.WithUserAgent {
					ua := ww.Header().Get("User-Agent")
					if ua == "" {
						ua = r.Header.Get("User-Agent")
					}
					if ua != "" {
						reqLogger = reqLogger.With(zap.String("ua", ua))
					}
				}

				if lo.Contains(noisyPaths, getAPIType(r)) {
					reqLogger.Debug("served")
				} else {
					reqLogger.Info("served")
				}
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
