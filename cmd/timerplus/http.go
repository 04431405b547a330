package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Hosts the state WebSocket and a health endpoint. Handlers are registered on
// the mux by their owners.
// ============================================================================

const httpShutdownTimeout = 3 * time.Second

// registerHealth adds a liveness endpoint to mux.
func registerHealth(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "ok clients=%d\n", hub.ClientCount())
	})
}

// runHTTPServer serves mux on addr and shuts it down gracefully when ctx is
// canceled.
func runHTTPServer(ctx context.Context, addr string, mux *http.ServeMux, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveHTTP(ctx, ln, mux, logger)
}

func serveHTTP(ctx context.Context, ln net.Listener, mux *http.ServeMux, logger *slog.Logger) error {
	logger.Info("HTTP server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
