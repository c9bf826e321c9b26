package logger

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
)

// Setup returns a colored tint logger in development and a JSON logger
// otherwise.
func Setup(mode string) *slog.Logger {
	if mode == "development" || mode == "" {
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		log.Println("Initialized development logger (tint)")
		return slog.New(tint.NewHandler(os.Stdout, tintOpts))
	}
	jsonOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	log.Println("Initialized production logger (JSON)")
	return slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
}

// StructuredLogger logs every request with its request id, status and latency.
// It must run after middleware.RequestID.
func StructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestLogger := logger.With(
				slog.String("req_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			requestLogger.DebugContext(r.Context(), "Request started")

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			requestLogger.Log(r.Context(), level, "Request completed",
				slog.Int("status", ww.Status()),
				slog.Int("bytes_written", ww.BytesWritten()),
				slog.Duration("latency", time.Since(start)),
			)
		})
	}
}
