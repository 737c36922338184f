// Package netsvc provides the HTTP/WebSocket front door shared by the
// peer-linker and channel-hub daemons: an upgrade endpoint that checks the
// service's WebSocket subprotocol, a health endpoint, and graceful
// shutdown. Adapted from gateway/src/main.go's server lifecycle and
// gateway/src/tunnel.go's upgrader/subprotocol handling.
package netsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mojyack/padfabric/internal/config"
)

// PadHandler processes one upgraded WebSocket connection end to end. It is
// expected to block until the connection closes.
type PadHandler func(conn *websocket.Conn)

// Daemon is a minimal HTTP server exposing /healthz and a protocol-gated
// /ws upgrade endpoint.
type Daemon struct {
	cfg      *config.ServerConfig
	handler  PadHandler
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewDaemon builds a Daemon that upgrades connections on /ws and dispatches
// each one to handler in its own goroutine.
func NewDaemon(cfg *config.ServerConfig, handler PadHandler) *Daemon {
	return &Daemon{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{cfg.Protocol},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (d *Daemon) router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.HandleFunc("/healthz", d.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", d.handleUpgrade).Methods(http.MethodGet)
	return r
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%q}`, d.cfg.Protocol)
}

func (d *Daemon) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	if conn.Subprotocol() != d.cfg.Protocol {
		slog.Warn("rejecting connection with wrong subprotocol",
			"got", conn.Subprotocol(), "want", d.cfg.Protocol)
		_ = conn.Close()
		return
	}

	slog.Info("pad session connected", "remote", r.RemoteAddr)
	go func() {
		defer func() {
			_ = conn.Close()
			slog.Info("pad session disconnected", "remote", r.RemoteAddr)
		}()
		d.handler(conn)
	}()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then performs a bounded graceful shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.server = &http.Server{
		Addr:         d.cfg.ListenAddr,
		Handler:      d.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived.
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("daemon listening", "addr", d.cfg.ListenAddr, "protocol", d.cfg.Protocol)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("daemon shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.server.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
