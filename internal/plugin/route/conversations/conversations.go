package conversations

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
		Order: 110,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Conversations, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts the conversation query endpoints behind auth.
func MountRoutes(r *gin.Engine, conversations *service.ConversationService, auth gin.HandlerFunc) {
	g := r.Group("/api", auth)
	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, conversations)
	})
	g.GET("/conversations/:externalId", func(c *gin.Context) {
		getConversation(c, conversations)
	})
}

func listConversations(c *gin.Context, conversations *service.ConversationService) {
	params, err := service.ParseListParams(service.RawListParams{
		Page:      c.Query("page"),
		Limit:     c.Query("limit"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	})
	if err != nil {
		handleError(c, err, "Failed to fetch conversations")
		return
	}
	list, err := conversations.List(c.Request.Context(), params)
	if err != nil {
		handleError(c, err, "Failed to fetch conversations")
		return
	}
	c.JSON(http.StatusOK, list)
}

func getConversation(c *gin.Context, conversations *service.ConversationService) {
	detail, err := conversations.Get(c.Request.Context(), c.Param("externalId"))
	if err != nil {
		handleError(c, err, "Failed to fetch conversation")
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleError maps store errors to responses. Internal details are logged, never returned.
func handleError(c *gin.Context, err error, internalMessage string) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "Conversation not found"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": validation.Message, "field": validation.Field})
	default:
		_ = c.Error(err)
		log.Error(internalMessage, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMessage})
	}
}
