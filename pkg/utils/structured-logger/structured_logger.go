package structuredlogger

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/go-chi/chi/v5/middleware"
)

// NewStructuredLogger returns a chi request logger middleware that writes
// one record per request into the logger, labeled with the component name.
// Requests with status below 400 are logged at debug level for noisy endpoints
// like probes and metrics scrapes.
func NewStructuredLogger(logger *log.Logger, componentLabel string) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&StructuredLogger{
		Logger:         logger,
		ComponentLabel: componentLabel,
	})
}

type StructuredLogger struct {
	Logger         *log.Logger
	ComponentLabel string
}

func (l *StructuredLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	logger := l.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	entry := &StructuredLoggerEntry{
		Logger: logger.With(
			slog.String("operator.component", l.ComponentLabel),
			slog.String("http_method", r.Method),
			slog.String("uri", r.RequestURI),
		),
		quiet: isQuietPath(r.URL.Path),
	}

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		entry.Logger = entry.Logger.With(slog.String("request_id", reqID))
	}

	return entry
}

func isQuietPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

type StructuredLoggerEntry struct {
	Logger *log.Logger
	quiet  bool
}

func (l *StructuredLoggerEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	l.Logger = l.Logger.With(
		slog.Int("resp_status", status),
		slog.Int("resp_bytes_length", bytes),
		slog.Float64("resp_elapsed_ms", float64(elapsed.Microseconds())/1000.0),
	)

	if l.quiet && status < http.StatusBadRequest {
		l.Logger.Debug("complete")
		return
	}
	l.Logger.Info("complete")
}

// Panic adds the panic value and stack to the entry.
func (l *StructuredLoggerEntry) Panic(v interface{}, stack []byte) {
	l.Logger = l.Logger.With(
		slog.String("stack", string(stack)),
		slog.String("panic", fmt.Sprintf("%+v", v)),
	)
}

// GetLogEntry returns a request-scoped logger.
func GetLogEntry(r *http.Request) *log.Logger {
	entry, ok := middleware.GetLogEntry(r).(*StructuredLoggerEntry)
	if !ok {
		return log.NewNop()
	}
	return entry.Logger
}
