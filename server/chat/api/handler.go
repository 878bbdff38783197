package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"crm_server/server/chat/domain"
	"crm_server/server/chat/service"
	commonauth "crm_server/server/common/auth"
	"crm_server/server/common/middleware"
	"crm_server/server/common/transport/httpresp"
)

type Handler struct {
	auth     *commonauth.Service
	chat     *service.ChatService
	webhook  *service.WebhookService
	queue    *service.DeliveryQueue
	gateway  *service.WhatsAppService
	realtime *service.RealtimeService
}

func NewHandler(auth *commonauth.Service, chat *service.ChatService, webhook *service.WebhookService, queue *service.DeliveryQueue, gateway *service.WhatsAppService, realtime *service.RealtimeService) *Handler {
	return &Handler{auth: auth, chat: chat, webhook: webhook, queue: queue, gateway: gateway, realtime: realtime}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws/chat", h.realtime.HandleWS)

	// The gateway authenticates by knowing the URL, not by bearer token.
	r.POST("/api/v1/whatsapp/webhook", h.handleWebhook)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.POST("/whatsapp/send-text", h.sendText)
		api.POST("/whatsapp/send-media", h.sendMedia)
		api.GET("/whatsapp/queue-status", h.queueStatus)
		api.GET("/whatsapp/status", h.gatewayStatus)

		api.GET("/chats", h.listChats)
		api.GET("/chats/:id/messages", h.listMessages)
		api.PATCH("/chats/:id/archive", h.archiveChat)
		api.POST("/messages", h.createMessage)

		api.GET("/quick-replies", h.listQuickReplies)
		api.POST("/quick-replies", h.createQuickReply)
		api.PUT("/quick-replies/:id", h.updateQuickReply)
		api.DELETE("/quick-replies/:id", h.deleteQuickReply)
	}
}

func (h *Handler) handleWebhook(c *gin.Context) {
	var event service.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if !h.webhook.Handled(event) {
		c.JSON(http.StatusOK, httpresp.NewSuccessResponse())
		return
	}
	if _, err := h.webhook.Process(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewSuccessResponse())
}

func (h *Handler) sendText(c *gin.Context) {
	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrToAndMessage))
		return
	}
	jobID, err := h.queue.EnqueueText(c.Request.Context(), req.To, req.Message, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, EnqueuedResponse{Success: true, JobID: jobID})
}

func (h *Handler) sendMedia(c *gin.Context) {
	var req struct {
		To        string `json:"to"`
		URL       string `json:"url"`
		Caption   string `json:"caption"`
		MediaType string `json:"mediaType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.MediaType) == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrToAndURL))
		return
	}
	jobID, err := h.queue.EnqueueMedia(c.Request.Context(), req.To, req.URL, req.Caption, req.MediaType, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, EnqueuedResponse{Success: true, JobID: jobID})
}

func (h *Handler) queueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Status())
}

func (h *Handler) gatewayStatus(c *gin.Context) {
	state, err := h.gateway.ConnectionState(c.Request.Context())
	now := time.Now().UTC()
	if err != nil {
		c.JSON(http.StatusOK, domain.GatewayStatusPayload{
			Connected: false,
			State:     string(domain.GatewayStateError),
			Timestamp: now,
			Error:     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, domain.GatewayStatusPayload{
		Connected: state == domain.GatewayStateOpen,
		State:     string(state),
		Timestamp: now,
	})
}

func (h *Handler) listChats(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("includeArchived", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.chat.ListChats(c.Request.Context(), includeArchived, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, ChatsResponse{Items: items})
}

func (h *Handler) listMessages(c *gin.Context) {
	chatID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID *string
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		beforeID = &raw
	}
	items, err := h.chat.ListMessages(c.Request.Context(), chatID, limit, beforeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Items: items})
}

func (h *Handler) archiveChat(c *gin.Context) {
	var req struct {
		Archived *bool `json:"archived" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.chat.SetChatArchived(c.Request.Context(), c.Param("id"), *req.Archived); err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) createMessage(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	var req struct {
		ChatID    string `json:"chatId" binding:"required"`
		Content   string `json:"content"`
		MediaURL  string `json:"mediaUrl"`
		MediaType string `json:"mediaType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.MediaURL) == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("content or mediaUrl is required"))
		return
	}
	message, err := h.chat.SaveOutbound(c.Request.Context(), req.ChatID, userID, req.Content, req.MediaURL, req.MediaType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *Handler) listQuickReplies(c *gin.Context) {
	items, err := h.chat.ListQuickReplies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, QuickRepliesResponse{Items: items})
}

func (h *Handler) createQuickReply(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
		Body  string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	item, err := h.chat.CreateQuickReply(c.Request.Context(), req.Title, req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateQuickReply(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
		Body  string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	item, err := h.chat.UpdateQuickReply(c.Request.Context(), c.Param("id"), req.Title, req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteQuickReply(c *gin.Context) {
	if err := h.chat.DeleteQuickReply(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}
