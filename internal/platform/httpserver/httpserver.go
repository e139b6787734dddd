// Package httpserver builds the HTTP server with defaults suited to
// long-lived push connections.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server. No WriteTimeout: the SSE push channel holds
// responses open indefinitely, so per-request deadlines are applied in
// middleware on the JSON routes instead.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
