package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

// Rooms handles GET /api/rooms.
func (h *Handler) Rooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		respondStoreError(c, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// MessageIDs handles GET /api/rooms/:room/message-ids?daysOfHistory=N.
// Without daysOfHistory the full id set is returned; with it, only ids newer
// than the window. Values below the minimum clamp up so a client cannot
// accidentally sync itself down to nothing.
func (h *Handler) MessageIDs(c *gin.Context) {
	room := c.Param("room")

	var sinceTs *int64
	if raw := c.Query("daysOfHistory"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "daysOfHistory must be an integer"})
			return
		}
		if days < minHistoryDays {
			days = minHistoryDays
		}
		ts := time.Now().AddDate(0, 0, -days).UnixMilli()
		sinceTs = &ts
	}

	ids, err := h.store.GetMessageIdsForRoom(c.Request.Context(), room, sinceTs)
	if err != nil {
		respondStoreError(c, "list message ids", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": ids})
}

type messagesByIDRequest struct {
	IDs []string `json:"ids"`
}

// MessagesByID handles POST /api/rooms/:room/get-messages-by-id. Ids that do
// not exist, or that belong to another room, are simply absent from the
// response.
func (h *Handler) MessagesByID(c *gin.Context) {
	room := c.Param("room")

	var req messagesByIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msgs, err := h.store.GetMessagesByIds(c.Request.Context(), req.IDs, room)
	if err != nil {
		respondStoreError(c, "get messages", err)
		return
	}
	if msgs == nil {
		msgs = []wire.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Messages handles GET /api/messages?roomName=&limit=&offset=, newest first.
func (h *Handler) Messages(c *gin.Context) {
	roomName := c.Query("roomName")
	if roomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		offset = n
	}

	msgs, err := h.store.GetMessagesForRoom(c.Request.Context(), roomName, limit, offset)
	if err != nil {
		respondStoreError(c, "get messages", err)
		return
	}
	if msgs == nil {
		msgs = []wire.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Attachment handles GET /api/attachments/:id, serving the stored bytes with
// the original filename and content type.
func (h *Handler) Attachment(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attachment id must be an integer"})
		return
	}

	name, mimeType, data, err := h.store.GetAttachment(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "get attachment", err)
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.Data(http.StatusOK, mimeType, data)
}
