package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fibo-hedge-bot/internal/hedge"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status is the read-only view of the running bot served over HTTP.
type Status interface {
	Paused() bool
	States() []hedge.State
}

type pairView struct {
	hedge.State
	Paused bool `json:"paused"`
}

// Router serves /healthz, /pairs, /pairs/:pair and, when metrics is not
// nil, the Prometheus scrape endpoint at /metrics.
func Router(status Status, metrics http.Handler) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": status.Paused()})
	})
	r.GET("/pairs", func(c *gin.Context) {
		paused := status.Paused()
		states := status.States()
		out := make([]pairView, 0, len(states))
		for _, st := range states {
			out = append(out, pairView{State: st, Paused: paused})
		}
		c.JSON(http.StatusOK, out)
	})
	r.GET("/pairs/:pair", func(c *gin.Context) {
		pair := strings.ToUpper(c.Param("pair"))
		for _, st := range status.States() {
			if st.Pair == pair {
				c.JSON(http.StatusOK, pairView{State: st, Paused: status.Paused()})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pair " + pair})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}

// Serve runs an HTTP server on addr until ctx ends.
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("http server listening", zap.String("address", addr))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
