package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/identity"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/store"
)

// RoomInfo handles POST /api/admin/get-room-info.
func (h *Handler) RoomInfo(c *gin.Context) {
	rooms, err := h.store.GetRoomInfo(c.Request.Context())
	if err != nil {
		respondStoreError(c, "get room info", err)
		return
	}
	if rooms == nil {
		rooms = []store.RoomInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type deleteRoomRequest struct {
	RoomName string `json:"roomName"`
}

// DeleteRoom handles POST /api/admin/delete-room: the room, its messages,
// and their attachments all go.
func (h *Handler) DeleteRoom(c *gin.Context) {
	var req deleteRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}

	ok, err := h.store.DeleteRoom(c.Request.Context(), req.RoomName)
	if err != nil {
		respondStoreError(c, "delete room", err)
		return
	}
	logging.Info(c.Request.Context(), "admin deleted room",
		zap.String("room", req.RoomName), zap.Bool("existed", ok))
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

type recentAttachmentsRequest struct {
	Limit int `json:"limit"`
}

// RecentAttachments handles POST /api/admin/get-recent-attachments. The body
// is optional; an absent or non-positive limit falls back to the default.
func (h *Handler) RecentAttachments(c *gin.Context) {
	var req recentAttachmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultRecentAttachments
	}

	atts, err := h.store.GetRecentAttachments(c.Request.Context(), req.Limit)
	if err != nil {
		respondStoreError(c, "get recent attachments", err)
		return
	}
	if atts == nil {
		atts = []store.AttachmentInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"attachments": atts})
}

// CreateTestData handles POST /api/admin/create-test-data, rebuilding the
// seeded test room from scratch.
func (h *Handler) CreateTestData(c *gin.Context) {
	if err := h.store.CreateTestData(c.Request.Context()); err != nil {
		respondStoreError(c, "create test data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type blockUserRequest struct {
	PublicKey string `json:"publicKey"`
}

// BlockUser handles POST /api/admin/block-user: existing content is deleted
// first, then the key is blocked so nothing new lands. A content-deletion
// failure still blocks the key but is surfaced in the response.
func (h *Handler) BlockUser(c *gin.Context) {
	var req blockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publicKey is required"})
		return
	}
	if err := identity.ValidatePublicKey(req.PublicKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publicKey must be 64 hex characters"})
		return
	}

	ctx := c.Request.Context()
	deleted, delErr := h.store.DeleteUserContent(ctx, req.PublicKey)
	if delErr != nil {
		logging.Error(ctx, "failed to delete content for blocked key",
			zap.String("publicKey", logging.AbbrevKey(req.PublicKey)), zap.Error(delErr))
	}

	if err := h.store.BlockUser(ctx, req.PublicKey); err != nil {
		respondStoreError(c, "block user", err)
		return
	}
	if err := h.bus.PublishBlockInvalidation(ctx); err != nil {
		logging.Warn(ctx, "failed to announce block to sibling instances", zap.Error(err))
	}

	logging.Info(ctx, "admin blocked user",
		zap.String("publicKey", logging.AbbrevKey(req.PublicKey)),
		zap.Int("deletedMessages", deleted))

	resp := gin.H{"ok": true, "deletedMessages": deleted}
	if delErr != nil {
		resp["error"] = "blocked, but deleting existing content failed"
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteAttachment handles POST /api/admin/attachments/:id/delete.
func (h *Handler) DeleteAttachment(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attachment id must be an integer"})
		return
	}

	ok, err := h.store.DeleteAttachment(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, "delete attachment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}
