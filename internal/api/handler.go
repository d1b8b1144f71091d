package api

import (
	"net/http"
	"strings"

	"consensus-chat/client/internal/ws"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	wire "consensus-chat/client/pkg/ws"

	"github.com/gin-gonic/gin"
)

// maxUploadSize bounds a single attachment accepted by the development server
const maxUploadSize = 32 << 20

// Handler serves the chat API of the development server
type Handler struct {
	store     *Store
	responder *Responder
	hub       *ws.Hub
}

// NewHandler creates the chat API handler
func NewHandler(store *Store, responder *Responder, hub *ws.Hub) *Handler {
	return &Handler{store: store, responder: responder, hub: hub}
}

// RegisterRoutes registers the chat API routes
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	chat := router.Group("/api/chat")
	{
		chat.POST("/messages", h.SendMessage)
		chat.GET("/sessions/:id/messages", h.GetSessionMessages)
	}
	router.POST("/api/files/upload", h.UploadFile)
	if h.hub != nil {
		router.GET("/ws", h.ServeWs)
	}
}

// SendMessage answers a chat request synchronously
func (h *Handler) SendMessage(c *gin.Context) {
	var req wire.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Invalid request format").WithDetails(err.Error()))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeEmptyMessage, "message content is empty"))
		return
	}

	resp, created := h.responder.Reply(req)
	log := logger.FromContext(c).WithSessionID(resp.Message.SessionID.String())
	log.Info("Chat message answered",
		"use_consensus", req.UseConsensus,
		"models", len(req.SelectedModels),
		"attachments", len(req.AttachedFileIDs),
		"session_created", created,
	)
	c.JSON(http.StatusOK, resp)
}

// UploadFile stores a multipart "file" field
func (h *Handler) UploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fh, err := c.FormFile("file")
	if err != nil {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeUploadFailed, "multipart field \"file\" is required"))
		return
	}

	stored := h.store.SaveFile(fh.Filename, fh.Size)
	logger.FromContext(c).Info("File uploaded", "file_id", stored.ID, "name", stored.Name, "size", stored.Size)
	c.JSON(http.StatusOK, wire.UploadResponse{FileID: stored.ID})
}

// GetSessionMessages returns the stored log of a session
func (h *Handler) GetSessionMessages(c *gin.Context) {
	sessionID := c.Param("id")
	msgs, ok := h.store.Messages(sessionID)
	if !ok {
		c.Error(apperrors.NewNotFoundError(apperrors.CodeNotFound, "session not found"))
		return
	}

	c.JSON(http.StatusOK, wire.HistoryResponse{
		SessionID: wire.SessionRef(sessionID),
		Messages:  msgs,
		Count:     len(msgs),
	})
}

// ServeWs upgrades to the push channel
func (h *Handler) ServeWs(c *gin.Context) {
	ws.ServeWs(h.hub, c)
}
