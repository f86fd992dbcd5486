package handlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/models"
	"github.com/prasetyowira/tokoar_be/internal/realtime"
	"github.com/prasetyowira/tokoar_be/internal/utils"
)

// WSHandler authenticates every new socket connection and dispatches its
// events into the fan-out engine. No event is processed before the bearer
// token is verified and resolved to a user.
type WSHandler struct {
	DB        *gorm.DB
	Hub       *realtime.Hub
	Engine    *chat.Engine
	JWTSecret string
}

func NewWSHandler(db *gorm.DB, hub *realtime.Hub, engine *chat.Engine, secret string) *WSHandler {
	return &WSHandler{DB: db, Hub: hub, Engine: engine, JWTSecret: secret}
}

// Handle runs one connection: handshake auth, register, then the sequential
// read loop. Cleanup on exit unregisters the client, which sweeps typing
// sets and broadcasts offline presence.
func (h *WSHandler) Handle(c *websocket.Conn) {
	claims, err := utils.ParseJWT(h.JWTSecret, c.Query("token"))
	if err != nil {
		log.Println("ws: rejected connection: invalid token:", err)
		c.Close()
		return
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		log.Println("ws: rejected connection: bad user id in token")
		c.Close()
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", uid).Error; err != nil {
		log.Println("ws: rejected connection: unknown user", uid)
		c.Close()
		return
	}

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: user.ID,
		Role:   string(user.Role),
		Name:   user.Name,
		Conn:   realtime.NewWebSocketConn(c),
		Send:   make(chan []byte, 256),
	}
	ident := chat.Identity{UserID: user.ID, Role: user.Role, Name: user.Name}

	h.Hub.Register(client)
	defer h.Hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := client.Conn.WriteText(msg); err != nil {
				log.Println("ws: write error:", err)
				return
			}
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			log.Printf("ws: read error for user %s: %v", user.ID, err)
			break
		}
		h.dispatch(client, ident, raw)
	}
}

// dispatch parses the envelope, runs the operation and reports any failure
// to the acting connection only.
func (h *WSHandler) dispatch(client *realtime.Client, ident chat.Identity, raw []byte) {
	env, err := chat.ParseEnvelope(raw)
	if err != nil {
		h.sendError(client, err)
		return
	}

	ctx := context.Background()

	switch env.Event {
	case chat.EvConversationJoin:
		convID, err := parseConversationRef(env.Data)
		if err != nil {
			h.sendError(client, err)
			return
		}
		if _, err := h.Engine.JoinConversation(ctx, ident, convID); err != nil {
			h.sendError(client, err)
			return
		}
		h.Hub.JoinRoom(convID.String(), client)

	case chat.EvConversationLeave:
		convID, err := parseConversationRef(env.Data)
		if err != nil {
			h.sendError(client, err)
			return
		}
		h.Hub.LeaveRoom(convID.String(), client)

	case chat.EvMessageSend:
		var p chat.SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, chat.Validation("malformed event payload"))
			return
		}
		in, err := sendInputFromPayload(p)
		if err != nil {
			h.sendError(client, err)
			return
		}
		if _, err := h.Engine.SendMessage(ctx, ident, in); err != nil {
			h.sendError(client, err)
		}

	case chat.EvTypingStart, chat.EvTypingStop:
		convID, err := parseConversationRef(env.Data)
		if err != nil {
			h.sendError(client, err)
			return
		}
		if err := h.Engine.Typing(ctx, ident, convID, env.Event == chat.EvTypingStart); err != nil {
			h.sendError(client, err)
		}

	case chat.EvMessageRead:
		var p chat.ReadMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, chat.Validation("malformed event payload"))
			return
		}
		msgID, err := uuid.Parse(p.MessageID)
		if err != nil {
			h.sendError(client, chat.Validation("invalid message id"))
			return
		}
		if err := h.Engine.MarkMessageRead(ctx, ident, msgID); err != nil {
			h.sendError(client, err)
		}

	case chat.EvConversationMarkRead:
		convID, err := parseConversationRef(env.Data)
		if err != nil {
			h.sendError(client, err)
			return
		}
		if _, err := h.Engine.MarkConversationRead(ctx, ident, convID); err != nil {
			h.sendError(client, err)
		}

	case chat.EvAdminBlock:
		var p chat.BlockPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, chat.Validation("malformed event payload"))
			return
		}
		convID, err := uuid.Parse(p.ConversationID)
		if err != nil {
			h.sendError(client, chat.Validation("invalid conversation id"))
			return
		}
		if err := h.Engine.BlockConversation(ctx, ident, convID, p.Reason); err != nil {
			h.sendError(client, err)
		}

	case chat.EvAdminAnnouncement:
		var p chat.AnnouncementPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, chat.Validation("malformed event payload"))
			return
		}
		if _, err := h.Engine.Announce(ctx, ident, p.Message, p.TargetRole); err != nil {
			h.sendError(client, err)
		}

	case chat.EvUserCheckOnline:
		var p chat.CheckOnlinePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, chat.Validation("malformed event payload"))
			return
		}
		target, err := uuid.Parse(p.TargetUserID)
		if err != nil {
			h.sendError(client, chat.Validation("invalid user id"))
			return
		}
		h.Hub.SendToClient(client, chat.EvUserCheckOnline, map[string]interface{}{
			"userId": target.String(),
			"online": h.Engine.IsOnline(target),
		})

	default:
		h.sendError(client, chat.Validation("unknown event: "+env.Event))
	}
}

func (h *WSHandler) sendError(client *realtime.Client, err error) {
	if chat.KindOf(err) == chat.KindPersistence {
		log.Println("ws: operation error:", err)
	}
	h.Hub.SendToClient(client, chat.EvError, chat.ErrorEvent{Message: chat.PublicMessage(err)})
}

func parseConversationRef(data json.RawMessage) (uuid.UUID, error) {
	var ref chat.ConversationRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return uuid.Nil, chat.Validation("malformed event payload")
	}
	return ref.UUID()
}

func sendInputFromPayload(p chat.SendMessagePayload) (chat.SendInput, error) {
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		return chat.SendInput{}, chat.Validation("invalid conversation id")
	}

	msgType := models.MessageType(p.Type)
	if p.Type == "" {
		msgType = models.MessageText
	}

	in := chat.SendInput{
		ConversationID: convID,
		Type:           msgType,
		Text:           p.Text,
		File:           p.FileData,
	}
	if p.ReplyTo != "" {
		replyTo, err := uuid.Parse(p.ReplyTo)
		if err != nil {
			return chat.SendInput{}, chat.Validation("invalid reply target")
		}
		in.ReplyTo = &replyTo
	}
	return in, nil
}
