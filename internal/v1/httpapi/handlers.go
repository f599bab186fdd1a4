// Package httpapi exposes the REST surface: public history reads, signed
// message writes, and the admin plane. Realtime traffic stays on the hub;
// everything here is request/response over the same persistence layer.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/middleware"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/store"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/wire"
)

const (
	defaultPageSize          = 50
	maxPageSize              = 500
	minHistoryDays           = 2
	defaultRecentAttachments = 100
)

// Store is the slice of the persistence layer the HTTP API needs.
type Store interface {
	ListRooms(ctx context.Context) ([]string, error)
	GetMessageIdsForRoom(ctx context.Context, roomKey string, sinceTs *int64) ([]string, error)
	GetMessagesByIds(ctx context.Context, ids []string, roomKey string) ([]wire.ChatMessage, error)
	GetMessagesForRoom(ctx context.Context, roomName string, limit, offset int) ([]wire.ChatMessage, error)
	GetAttachment(ctx context.Context, id int) (name, mimeType string, data []byte, err error)
	SaveMessages(ctx context.Context, roomName string, msgs []wire.ChatMessage) (int, error)
	DeleteMessage(ctx context.Context, id, requesterKey, adminKey string) (bool, error)
	GetRoomInfo(ctx context.Context) ([]store.RoomInfo, error)
	DeleteRoom(ctx context.Context, name string) (bool, error)
	GetRecentAttachments(ctx context.Context, limit int) ([]store.AttachmentInfo, error)
	CreateTestData(ctx context.Context) error
	BlockUser(ctx context.Context, publicKey string) error
	DeleteUserContent(ctx context.Context, publicKey string) (int, error)
	DeleteAttachment(ctx context.Context, id int) (bool, error)
}

// Notifier pushes server-originated frames to connected clients.
type Notifier interface {
	SendDeleteMsg(room, messageID, requesterKey string)
}

// Bus announces block-list mutations to sibling instances. A nil
// *bus.Service satisfies it with no-ops.
type Bus interface {
	PublishBlockInvalidation(ctx context.Context) error
}

// Handler owns the REST endpoints and their dependencies.
type Handler struct {
	store    Store
	hub      Notifier
	bus      Bus
	adminKey string
}

func NewHandler(st Store, hub Notifier, b Bus, adminKey string) *Handler {
	return &Handler{store: st, hub: hub, bus: b, adminKey: adminKey}
}

// Register mounts all routes under /api. Signed routes verify the request
// signature; admin routes additionally require the configured admin key.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/rooms", h.Rooms)
	api.GET("/rooms/:room/message-ids", h.MessageIDs)
	api.POST("/rooms/:room/get-messages-by-id", h.MessagesByID)
	api.GET("/messages", h.Messages)
	api.GET("/attachments/:id", h.Attachment)

	signed := api.Group("", middleware.RequireSignature())
	signed.POST("/rooms/:room/send-messages", h.SendMessages)
	signed.POST("/delete-message", h.DeleteMessage)

	admin := signed.Group("/admin", middleware.RequireAdmin(h.adminKey))
	admin.POST("/get-room-info", h.RoomInfo)
	admin.POST("/delete-room", h.DeleteRoom)
	admin.POST("/get-recent-attachments", h.RecentAttachments)
	admin.POST("/create-test-data", h.CreateTestData)
	admin.POST("/block-user", h.BlockUser)
	admin.POST("/attachments/:id/delete", h.DeleteAttachment)
}

// respondStoreError maps persistence failures onto transport codes: missing
// rows are 404, everything else is a 500 with the cause kept in the logs.
func respondStoreError(c *gin.Context, action string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	logging.Error(c.Request.Context(), "store operation failed",
		zap.String("action", action), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": action + " failed"})
}
