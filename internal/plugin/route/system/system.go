package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/conversation-hub/internal/registry/route"
)

// ReadinessCheck probes a dependency. A non-nil error marks the service unready.
type ReadinessCheck func(ctx context.Context) error

var (
	ready atomic.Bool
	check atomic.Pointer[ReadinessCheck]
)

// MarkReady signals that StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness off, e.g. while draining.
func MarkNotReady() {
	ready.Store(false)
}

// SetReadinessCheck installs a probe run on every /ready request.
func SetReadinessCheck(fn ReadinessCheck) {
	if fn == nil {
		check.Store(nil)
		return
	}
	check.Store(&fn)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine, _ registryroute.Deps) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			r.GET("/ready", readyHandler)
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}

func readyHandler(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if fn := check.Load(); fn != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := (*fn)(ctx); err != nil {
			log.Warn("Readiness check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
