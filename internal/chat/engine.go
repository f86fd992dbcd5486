package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prasetyowira/tokoar_be/internal/models"
)

// Identity is the authenticated principal attached to a connection or
// request for its lifetime.
type Identity struct {
	UserID uuid.UUID
	Role   models.Role
	Name   string
}

// Broadcaster is the transport fan-out the engine depends on. It never sees
// raw connection handles.
type Broadcaster interface {
	EmitToRoom(conversationID string, event string, data interface{})
	EmitToRoomExcept(conversationID string, except uuid.UUID, event string, data interface{})
	EmitToUser(userID uuid.UUID, event string, data interface{})
	BroadcastAll(event string, data interface{})
}

// Registry is the presence view the engine consults at send time. A user
// disconnecting right after the check only loses the instant push; the
// persisted notification remains.
type Registry interface {
	IsOnline(userID uuid.UUID) bool
	OnlineUsers() []uuid.UUID
	SetTyping(conversationID string, userID uuid.UUID, typing bool) bool
}

// Engine accepts intents from the socket and REST layers and runs each as a
// validate -> authorize -> persist -> broadcast pipeline. Broadcasts happen
// only after the durable write succeeds.
type Engine struct {
	store     *Store
	broadcast Broadcaster
	presence  Registry
	rdb       *redis.Client // optional scale-out bridge
}

func NewEngine(store *Store, b Broadcaster, p Registry, rdb *redis.Client) *Engine {
	return &Engine{store: store, broadcast: b, presence: p, rdb: rdb}
}

func (e *Engine) Store() *Store { return e.store }

// JoinConversation authorizes room entry and moves the participant's read
// cursor. The cursor update is best-effort and never blocks the join.
func (e *Engine) JoinConversation(ctx context.Context, actor Identity, convID uuid.UUID) (*models.Conversation, error) {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(conv, actor.UserID, actor.Role) {
		return nil, Authorization("Access denied")
	}
	if IsParticipant(conv, actor.UserID) {
		if err := e.store.TouchLastRead(ctx, convID, actor.UserID); err != nil {
			log.Printf("chat: touch last read for %s: %v", actor.UserID, err)
		}
	}
	return conv, nil
}

type SendInput struct {
	ConversationID uuid.UUID
	Type           models.MessageType
	Text           string
	File           *FilePayload
	ReplyTo        *uuid.UUID
}

func validateSend(in SendInput) error {
	switch in.Type {
	case models.MessageText:
		if in.Text == "" {
			return Validation("Text is required")
		}
		if len([]rune(in.Text)) > models.MaxMessageTextLen {
			return Validation("Text exceeds 5000 characters")
		}
	case models.MessageImage, models.MessageFile:
		if in.File == nil || in.File.FileURL == "" {
			return Validation("File payload is required")
		}
	default:
		return Validation("Invalid message type")
	}
	return nil
}

// SendMessage is the core fan-out operation: validate, check the
// conversation and the gate, persist (which updates the conversation cache
// transactionally), broadcast once to the room, then create a durable
// notification per other participant plus a live push for those online.
func (e *Engine) SendMessage(ctx context.Context, actor Identity, in SendInput) (*models.Message, error) {
	if err := validateSend(in); err != nil {
		return nil, err
	}

	conv, err := e.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(conv, actor.UserID, actor.Role) {
		return nil, Authorization("Access denied")
	}
	if conv.Status == models.ConversationBlocked {
		return nil, Authorization("Conversation is blocked")
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		SenderRole:     string(actor.Role),
		Type:           in.Type,
		Text:           in.Text,
		ReplyToID:      in.ReplyTo,
	}
	if in.File != nil {
		msg.FileURL = in.File.FileURL
		msg.FileName = in.File.FileName
		msg.FileSize = in.File.FileSize
		msg.MimeType = in.File.MimeType
	}

	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	// Room subscribers render the message without a follow-up lookup, so the
	// broadcast carries the sender record.
	if sender, err := e.store.GetUser(ctx, actor.UserID); err == nil {
		msg.Sender = sender
	}

	e.broadcast.EmitToRoom(conv.ID.String(), EvMessageNew, map[string]interface{}{
		"message":        msg,
		"conversationId": conv.ID.String(),
	})

	e.notifyParticipants(ctx, conv, actor.UserID, msg)
	return msg, nil
}

func (e *Engine) notifyParticipants(ctx context.Context, conv *models.Conversation, sender uuid.UUID, msg *models.Message) {
	content := msg.Text
	if content == "" {
		content = msg.FileName
	}

	seen := map[uuid.UUID]bool{sender: true}
	for _, p := range conv.Participants {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true

		n := &models.ChatNotification{
			UserID:         p.UserID,
			ConversationID: conv.ID,
			MessageID:      &msg.ID,
			Type:           models.NotificationNewMessage,
			Content:        snippet(content),
		}
		if err := e.store.CreateNotification(ctx, n); err != nil {
			log.Printf("chat: create notification for %s: %v", p.UserID, err)
			continue
		}
		e.publishNotification(ctx, n)
		if e.presence.IsOnline(p.UserID) {
			e.broadcast.EmitToUser(p.UserID, EvNotificationNew, n)
		}
	}
}

// publishNotification feeds the redis bridge so other processes can deliver
// the push in a scaled-out deployment.
func (e *Engine) publishNotification(ctx context.Context, n *models.ChatNotification) {
	if e.rdb == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := e.rdb.Publish(ctx, "chat:notifications:"+n.UserID.String(), payload).Err(); err != nil {
		log.Printf("chat: redis publish: %v", err)
	}
}

// Typing handles both typing:start and typing:stop. Restarting typing while
// already marked still rebroadcasts; clients de-duplicate by userId.
func (e *Engine) Typing(ctx context.Context, actor Identity, convID uuid.UUID, start bool) error {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !CanAccess(conv, actor.UserID, actor.Role) {
		return Authorization("Access denied")
	}

	e.presence.SetTyping(conv.ID.String(), actor.UserID, start)

	event := EvUserTyping
	if !start {
		event = EvUserStopTyping
	}
	e.broadcast.EmitToRoomExcept(conv.ID.String(), actor.UserID, event, TypingEvent{
		UserID:         actor.UserID.String(),
		UserName:       actor.Name,
		ConversationID: conv.ID.String(),
	})
	return nil
}

// MarkMessageRead records the reader's marker and confirms delivery to the
// original sender's personal room only. A missing message is a silent no-op:
// it may have been deleted concurrently.
func (e *Engine) MarkMessageRead(ctx context.Context, actor Identity, messageID uuid.UUID) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil
		}
		return err
	}

	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !CanAccess(conv, actor.UserID, actor.Role) {
		return Authorization("Access denied")
	}

	now := time.Now()
	newly, err := e.store.MarkMessageRead(ctx, messageID, actor.UserID, now)
	if err != nil {
		return err
	}
	if newly && msg.SenderID != actor.UserID {
		e.broadcast.EmitToUser(msg.SenderID, EvMessageReadReceipt, ReadReceiptEvent{
			MessageID:      msg.ID.String(),
			ConversationID: msg.ConversationID.String(),
			ReadBy:         actor.UserID.String(),
			ReadAt:         now,
		})
	}
	return nil
}

// MarkConversationRead sweeps every unread message for the caller and then
// moves the read cursor. The sweep is not atomic; it is idempotent and safe
// to re-run after a partial failure.
func (e *Engine) MarkConversationRead(ctx context.Context, actor Identity, convID uuid.UUID) (int, error) {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return 0, err
	}
	if !CanAccess(conv, actor.UserID, actor.Role) {
		return 0, Authorization("Access denied")
	}

	msgs, err := e.store.UnreadMessages(ctx, convID, actor.UserID)
	if err != nil {
		return 0, err
	}

	marked := 0
	for i := range msgs {
		now := time.Now()
		newly, err := e.store.MarkMessageRead(ctx, msgs[i].ID, actor.UserID, now)
		if err != nil {
			return marked, err
		}
		if !newly {
			continue
		}
		marked++
		if msgs[i].SenderID != actor.UserID {
			e.broadcast.EmitToUser(msgs[i].SenderID, EvMessageReadReceipt, ReadReceiptEvent{
				MessageID:      msgs[i].ID.String(),
				ConversationID: convID.String(),
				ReadBy:         actor.UserID.String(),
				ReadAt:         now,
			})
		}
	}

	if err := e.store.TouchLastRead(ctx, convID, actor.UserID); err != nil {
		log.Printf("chat: touch last read for %s: %v", actor.UserID, err)
	}
	return marked, nil
}

// BlockConversation gates strictly on the admin role, updates status plus
// audit fields, and notifies each unique participant's personal room. The
// conversation room is skipped: its membership may be stale after a block.
func (e *Engine) BlockConversation(ctx context.Context, actor Identity, convID uuid.UUID, reason string) error {
	return e.moderate(ctx, actor, convID, reason, true)
}

func (e *Engine) UnblockConversation(ctx context.Context, actor Identity, convID uuid.UUID) error {
	return e.moderate(ctx, actor, convID, "", false)
}

func (e *Engine) moderate(ctx context.Context, actor Identity, convID uuid.UUID, reason string, block bool) error {
	if actor.Role != models.RoleAdmin {
		return Authorization("Admin role required")
	}

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := e.store.SetBlocked(ctx, convID, actor.UserID, reason, block); err != nil {
		return err
	}

	event := EvConversationBlocked
	if !block {
		event = EvConversationUnblocked
	}

	seen := map[uuid.UUID]bool{}
	for _, p := range conv.Participants {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true

		if block {
			n := &models.ChatNotification{
				UserID:         p.UserID,
				ConversationID: conv.ID,
				Type:           models.NotificationAdminWarning,
				Content:        snippet(reason),
			}
			if err := e.store.CreateNotification(ctx, n); err != nil {
				log.Printf("chat: block notification for %s: %v", p.UserID, err)
			} else {
				e.publishNotification(ctx, n)
			}
		}

		e.broadcast.EmitToUser(p.UserID, event, ModerationEvent{
			ConversationID: conv.ID.String(),
			Reason:         reason,
			By:             actor.UserID.String(),
		})
	}
	return nil
}

// Announce creates one system message per matching active conversation and
// broadcasts it to that room. Conversations are processed sequentially so a
// large fan-out cannot stampede the store.
func (e *Engine) Announce(ctx context.Context, actor Identity, text, targetRole string) (int, error) {
	if actor.Role != models.RoleAdmin {
		return 0, Authorization("Admin role required")
	}
	if text == "" {
		return 0, Validation("Text is required")
	}
	if len([]rune(text)) > models.MaxMessageTextLen {
		return 0, Validation("Text exceeds 5000 characters")
	}
	switch targetRole {
	case "", string(models.RoleCustomer), string(models.RoleVendor), string(models.RoleAdmin):
	default:
		return 0, Validation("Invalid target role")
	}

	convs, err := e.store.ActiveConversations(ctx, targetRole)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range convs {
		msg := &models.Message{
			ConversationID: convs[i].ID,
			SenderID:       actor.UserID,
			SenderRole:     models.SenderRoleSystem,
			Type:           models.MessageSystem,
			Text:           text,
		}
		if err := e.store.CreateMessage(ctx, msg); err != nil {
			log.Printf("chat: announcement to %s: %v", convs[i].ID, err)
			continue
		}
		e.broadcast.EmitToRoom(convs[i].ID.String(), EvMessageNew, map[string]interface{}{
			"message":        msg,
			"conversationId": convs[i].ID.String(),
		})
		sent++
	}
	return sent, nil
}

// DeleteMessage soft-deletes; sender or admin only.
func (e *Engine) DeleteMessage(ctx context.Context, actor Identity, messageID uuid.UUID) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actor.UserID && actor.Role != models.RoleAdmin {
		return Authorization("Access denied")
	}
	return e.store.SoftDeleteMessage(ctx, messageID, actor.UserID)
}

func (e *Engine) IsOnline(userID uuid.UUID) bool {
	return e.presence.IsOnline(userID)
}
