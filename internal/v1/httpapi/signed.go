package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/middleware"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

type sendMessagesRequest struct {
	Messages []wire.ChatMessage `json:"messages"`
}

// SendMessages handles POST /api/rooms/:room/send-messages: the client-sync
// write path. Every message must be signed by the request signer; messages
// that fail the check are skipped and flip allOk, the rest are stored.
func (h *Handler) SendMessages(c *gin.Context) {
	room := c.Param("room")
	signer := middleware.Signer(c)

	var req sendMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	accepted := make([]wire.ChatMessage, 0, len(req.Messages))
	allOk := true
	for _, msg := range req.Messages {
		if msg.ID == "" || msg.PublicKey != signer {
			allOk = false
			continue
		}
		canonical, err := wire.CanonicalChatMessage(msg)
		if err != nil {
			allOk = false
			continue
		}
		if err := identity.Verify(msg.PublicKey, msg.Signature, canonical); err != nil {
			allOk = false
			logging.Warn(ctx, "skipping uploaded message with invalid signature",
				zap.String("room", room),
				zap.String("messageId", msg.ID),
				zap.String("publicKey", logging.AbbrevKey(msg.PublicKey)))
			continue
		}
		accepted = append(accepted, msg)
	}

	if len(accepted) > 0 {
		if _, err := h.store.SaveMessages(ctx, room, accepted); err != nil {
			respondStoreError(c, "save messages", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"allOk": allOk})
}

type deleteMessageRequest struct {
	MessageID string `json:"messageId"`
	RoomName  string `json:"roomName"`
}

// DeleteMessage handles POST /api/delete-message. The store enforces
// owner-or-admin; when the row is actually gone, connected room members are
// told to drop their local copies.
func (h *Handler) DeleteMessage(c *gin.Context) {
	signer := middleware.Signer(c)

	var req deleteMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}

	ok, err := h.store.DeleteMessage(c.Request.Context(), req.MessageID, signer, h.adminKey)
	if err != nil {
		respondStoreError(c, "delete message", err)
		return
	}
	if ok && req.RoomName != "" {
		h.hub.SendDeleteMsg(req.RoomName, req.MessageID, signer)
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}
