package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/models"
)

// ChatHandler is the REST façade over the chat persistence layer and the
// fan-out engine. Moderation and send paths go through the engine so their
// realtime side effects mirror the socket path.
type ChatHandler struct {
	Store  *chat.Store
	Engine *chat.Engine
}

func NewChatHandler(store *chat.Store, engine *chat.Engine) *ChatHandler {
	return &ChatHandler{Store: store, Engine: engine}
}

type CreateConversationReq struct {
	ProductID *uint   `json:"product_id"`
	VendorID  *string `json:"vendor_id"`
	Subject   string  `json:"subject"`
}

// CreateOrGetConversation finds or creates the thread for the caller and a
// vendor, keyed on the participant pair. A blocked thread comes back as-is.
func (h *ChatHandler) CreateOrGetConversation(c *fiber.Ctx) error {
	uid, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var req CreateConversationReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}

	var customer models.User
	if err := h.Store.DB.First(&customer, "id = ?", uid).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "User not found"})
	}

	var vendorID uuid.UUID
	switch {
	case req.ProductID != nil:
		var product models.Product
		if err := h.Store.DB.First(&product, "id = ?", *req.ProductID).Error; err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Product not found"})
		}
		vendorID = product.VendorID
	case req.VendorID != nil:
		v, err := uuid.Parse(*req.VendorID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid vendor ID"})
		}
		vendorID = v
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "product_id or vendor_id required"})
	}

	// The thread is keyed on a two-user pair; a self-conversation can never
	// match it and would violate the participant unique index on create.
	if vendorID == uid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Cannot start a conversation with yourself"})
	}

	var vendor models.User
	if err := h.Store.DB.First(&vendor, "id = ?", vendorID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Vendor not found"})
	}

	conv, created, err := h.Store.FindOrCreateConversation(c.Context(), customer, vendor, req.ProductID, nil, req.Subject)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "created": created, "data": conv})
}

type LastMessageOut struct {
	SenderID string     `json:"sender_id,omitempty"`
	Text     string     `json:"text"`
	Type     string     `json:"type"`
	SentAt   *time.Time `json:"sent_at,omitempty"`
}

type ConversationOut struct {
	ID            string                           `json:"id"`
	Type          models.ConversationType          `json:"type"`
	Status        models.ConversationStatus        `json:"status"`
	ProductID     *uint                            `json:"product_id,omitempty"`
	OrderID       *uuid.UUID                       `json:"order_id,omitempty"`
	Subject       string                           `json:"subject,omitempty"`
	TotalMessages int64                            `json:"total_messages"`
	UnreadCount   int64                            `json:"unread_count"`
	UpdatedAt     time.Time                        `json:"updated_at"`
	LastMessage   *LastMessageOut                  `json:"last_message,omitempty"`
	Participants  []models.ConversationParticipant `json:"participants"`
}

func (h *ChatHandler) conversationOut(c *fiber.Ctx, conv *models.Conversation, userID uuid.UUID) ConversationOut {
	unread, err := h.Store.UnreadCount(c.Context(), conv.ID, userID)
	if err != nil {
		unread = 0
	}

	out := ConversationOut{
		ID:            conv.ID.String(),
		Type:          conv.Type,
		Status:        conv.Status,
		ProductID:     conv.ProductID,
		OrderID:       conv.OrderID,
		Subject:       conv.Subject,
		TotalMessages: conv.TotalMessages,
		UnreadCount:   unread,
		UpdatedAt:     conv.UpdatedAt,
		Participants:  conv.Participants,
	}
	if conv.LastMessageAt != nil {
		lm := &LastMessageOut{
			Text:   conv.LastMessageText,
			Type:   conv.LastMessageType,
			SentAt: conv.LastMessageAt,
		}
		if conv.LastMessageSenderID != nil {
			lm.SenderID = conv.LastMessageSenderID.String()
		}
		out.LastMessage = lm
	}
	return out
}

// GetConversations lists the caller's threads; admins see all.
func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	ident, err := getIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	page, limit := pagination(c)
	convs, err := h.Store.ListConversations(c.Context(), ident.UserID, ident.Role == models.RoleAdmin, c.Query("status"), page, limit)
	if err != nil {
		return fail(c, err)
	}

	out := make([]ConversationOut, 0, len(convs))
	for i := range convs {
		out = append(out, h.conversationOut(c, &convs[i], ident.UserID))
	}
	return c.JSON(fiber.Map{"success": true, "data": out, "page": page, "limit": limit})
}

func (h *ChatHandler) loadAuthorized(c *fiber.Ctx) (*models.Conversation, chat.Identity, error) {
	ident, err := getIdentity(c)
	if err != nil {
		return nil, ident, chat.Authorization("Unauthorized")
	}

	convID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, ident, chat.Validation("Invalid conversation ID")
	}

	conv, err := h.Store.GetConversation(c.Context(), convID)
	if err != nil {
		return nil, ident, err
	}
	if !chat.CanAccess(conv, ident.UserID, ident.Role) {
		return nil, ident, chat.Authorization("Access denied")
	}
	return conv, ident, nil
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	conv, ident, err := h.loadAuthorized(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": h.conversationOut(c, conv, ident.UserID)})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	conv, _, err := h.loadAuthorized(c)
	if err != nil {
		return fail(c, err)
	}

	page, limit := pagination(c)
	msgs, err := h.Store.ListMessages(c.Context(), conv.ID, page, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": msgs, "page": page, "limit": limit})
}

// ArchiveConversation is open to any participant or an admin.
func (h *ChatHandler) ArchiveConversation(c *fiber.Ctx) error {
	conv, _, err := h.loadAuthorized(c)
	if err != nil {
		return fail(c, err)
	}
	if err := h.Store.ArchiveConversation(c.Context(), conv.ID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

type BlockReq struct {
	Reason string `json:"reason"`
}

func (h *ChatHandler) BlockConversation(c *fiber.Ctx) error {
	ident, err := getIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	convID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	var req BlockReq
	_ = c.BodyParser(&req)

	if err := h.Engine.BlockConversation(c.Context(), ident, convID, req.Reason); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) UnblockConversation(c *fiber.Ctx) error {
	ident, err := getIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	convID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	if err := h.Engine.UnblockConversation(c.Context(), ident, convID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// DeleteConversation hard-deletes the thread with its messages and
// notifications.
func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	conv, _, err := h.loadAuthorized(c)
	if err != nil {
		return fail(c, err)
	}
	if err := h.Store.DeleteConversation(c.Context(), conv.ID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// DeleteMessage soft-deletes; the engine enforces sender-or-admin.
func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	ident, err := getIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	msgID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid message ID"})
	}

	if err := h.Engine.DeleteMessage(c.Context(), ident, msgID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) GetNotifications(c *fiber.Ctx) error {
	uid, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	page, limit := pagination(c)
	ns, err := h.Store.ListNotifications(c.Context(), uid, c.QueryBool("unread", false), page, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": ns, "page": page, "limit": limit})
}

func (h *ChatHandler) MarkNotificationRead(c *fiber.Ctx) error {
	uid, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid notification ID"})
	}

	if err := h.Store.MarkNotificationRead(c.Context(), id, uid); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *ChatHandler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	uid, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	n, err := h.Store.MarkAllNotificationsRead(c.Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "updated": n})
}

// GetStats is the admin aggregate view.
func (h *ChatHandler) GetStats(c *fiber.Ctx) error {
	st, err := h.Store.Stats(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": st})
}
