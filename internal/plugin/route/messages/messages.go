package messages

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	registryroute "github.com/chirino/conversation-hub/internal/registry/route"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/service"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Ingest, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts the ingestion endpoint behind auth.
func MountRoutes(r *gin.Engine, ingest *service.IngestService, auth gin.HandlerFunc) {
	g := r.Group("/api", auth)
	g.POST("/conversation-message", func(c *gin.Context) {
		createMessage(c, ingest)
	})
}

func createMessage(c *gin.Context, ingest *service.IngestService) {
	var in service.IngestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "payload_too_large", "error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": "invalid JSON body: " + err.Error()})
		return
	}
	if err := ingest.Ingest(c.Request.Context(), in); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func handleError(c *gin.Context, err error) {
	var validation *registrystore.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": validation.Message, "field": validation.Field})
		return
	}
	_ = c.Error(err)
	log.Error("Error creating conversation message", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation message"})
}
