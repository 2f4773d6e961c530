package controllers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/eashman/realtime-chat/internal/cctx"
)

// Wrap installs the outer middleware stack: panic recovery, access log,
// request ids and CORS for the allowed origins.
func Wrap(h http.Handler, allowedOrigins []string, debug bool) http.Handler {
	h = withRequestID(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(h)

	h = handlers.CustomLoggingHandler(accessLog(), h, logFormatter)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{zap.L()}),
		handlers.PrintRecoveryStack(debug),
	)(h)
}

func accessLog() io.Writer {
	return &zapio.Writer{Log: zap.L().With(zap.String("section", "http")), Level: zap.InfoLevel}
}

func logFormatter(w io.Writer, params handlers.LogFormatterParams) {
	// Tokens may ride in the query string on websocket upgrades.
	uri := params.URL.Path
	fmt.Fprintf(w, "%s %s %d %d %s\n",
		params.Request.Method, uri, params.StatusCode, params.Size, params.Request.RemoteAddr)
}

type recoveryLogger struct {
	log *zap.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error("recovered from panic", zap.String("panic", fmt.Sprint(v...)))
}

// withRequestID reuses an incoming X-Request-ID or mints one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		next.ServeHTTP(w, r.WithContext(cctx.WithValues(r.Context(), cctx.RequestID, id)))
	})
}
