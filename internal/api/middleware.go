package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// NewRouter wires the handlers behind access logging and panic recovery.
func NewRouter(h *Handlers) http.Handler {
	r := mux.NewRouter()
	h.Register(r)

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h.Logger}),
		handlers.PrintRecoveryStack(false),
	)
	return AccessLog(h.Logger, recovery(r))
}

// AccessLog writes one slog record per request. Probe endpoints log at debug
// so a polling orchestrator does not flood the output.
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		level := slog.LevelInfo
		switch {
		case p.StatusCode >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case p.URL.Path == "/healthz" || p.URL.Path == "/readyz" || p.URL.Path == "/metrics":
			level = slog.LevelDebug
		}
		logger.Log(p.Request.Context(), level, "http request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"bytes", p.Size,
			"duration", time.Since(p.TimeStamp),
			"remote", p.Request.RemoteAddr,
		)
	})
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(args ...interface{}) {
	l.logger.Error("http handler panic", "error", fmt.Sprint(args...))
}
