package handler

import (
	"net/http"

	"requesthub/internal/middleware"
	"requesthub/internal/service"
	"requesthub/pkg/response"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(notificationService service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	notifications := router.Group("/api/notifications")
	notifications.Use(middleware.RequireAuth())
	{
		notifications.GET("", h.ListOwnEvents)
	}
}

// ListOwnEvents returns the caller's notification events, newest first
// @Summary      List own notification events
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.NotificationEvent}
// @Router       /api/notifications [get]
func (h *NotificationHandler) ListOwnEvents(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}

	events, err := h.notificationService.ListOwnEvents(c.Request.Context(), rctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, events))
}
