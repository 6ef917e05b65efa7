package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary call with its duration and status code.
// Health checks are logged at debug level since load balancers poll them.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil && !isHealthMethod(info.FullMethod) {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// isHealthMethod reports whether a method belongs to grpc.health.v1
func isHealthMethod(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs operator requests. Probe and scrape endpoints are logged
// at debug level.
func logRequests(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := logger.Info()
		switch {
		case isProbe(r.URL.Path):
			event = logger.Debug()
		case rec.code >= http.StatusInternalServerError:
			event = logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func isProbe(path string) bool {
	switch path {
	case "/health", "/ready", "/live", "/metrics":
		return true
	}
	return false
}
