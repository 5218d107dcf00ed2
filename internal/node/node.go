// Package node serves the HTTP surface of a long-running process.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// Serve runs n's router on addr until ctx is cancelled, then shuts the server
// down gracefully.
func Serve(ctx context.Context, n Node, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           n.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("node", n.NodeID()).
			Str("kind", n.Kind()).
			Str("addr", addr).
			Msg("node.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Str("node", n.NodeID()).Msg("node.Serve stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
