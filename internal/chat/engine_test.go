package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prasetyowira/tokoar_be/internal/models"
)

type emitted struct {
	Room   string
	Except uuid.UUID
	User   uuid.UUID
	Event  string
	Data   interface{}
}

// fakeBroadcaster records every emission in order.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeBroadcaster) EmitToRoom(room, event string, data interface{}) {
	f.record(emitted{Room: room, Event: event, Data: data})
}

func (f *fakeBroadcaster) EmitToRoomExcept(room string, except uuid.UUID, event string, data interface{}) {
	f.record(emitted{Room: room, Except: except, Event: event, Data: data})
}

func (f *fakeBroadcaster) EmitToUser(userID uuid.UUID, event string, data interface{}) {
	f.record(emitted{User: userID, Event: event, Data: data})
}

func (f *fakeBroadcaster) BroadcastAll(event string, data interface{}) {
	f.record(emitted{Event: event, Data: data})
}

func (f *fakeBroadcaster) record(e emitted) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) byEvent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakePresence struct {
	online map[uuid.UUID]bool
	typing map[string]map[uuid.UUID]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: map[uuid.UUID]bool{}, typing: map[string]map[uuid.UUID]bool{}}
}

func (f *fakePresence) IsOnline(userID uuid.UUID) bool { return f.online[userID] }

func (f *fakePresence) OnlineUsers() []uuid.UUID {
	var ids []uuid.UUID
	for id, on := range f.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *fakePresence) SetTyping(convID string, userID uuid.UUID, typing bool) bool {
	m, ok := f.typing[convID]
	if !ok {
		m = map[uuid.UUID]bool{}
		f.typing[convID] = m
	}
	if m[userID] == typing {
		return false
	}
	m[userID] = typing
	return true
}

type engineFixture struct {
	db       *gorm.DB
	store    *Store
	engine   *Engine
	bcast    *fakeBroadcaster
	presence *fakePresence
	customer models.User
	vendor   models.User
	admin    models.User
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := testDB(t)
	store := NewStore(db)
	bcast := &fakeBroadcaster{}
	presence := newFakePresence()
	return &engineFixture{
		db:       db,
		store:    store,
		engine:   NewEngine(store, bcast, presence, nil),
		bcast:    bcast,
		presence: presence,
		customer: seedUser(t, db, "budi", models.RoleCustomer),
		vendor:   seedUser(t, db, "toko-ar", models.RoleVendor),
		admin:    seedUser(t, db, "admin", models.RoleAdmin),
	}
}

func identity(u models.User) Identity {
	return Identity{UserID: u.ID, Role: u.Role, Name: u.Name}
}

func TestSendMessageFirstContact(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// A customer opens a product inquiry thread and sends the first message.
	productID := uint(42)
	conv, created, err := f.store.FindOrCreateConversation(ctx, f.customer, f.vendor, &productID, nil, "AR Sofa")
	require.NoError(t, err)
	require.True(t, created)

	f.presence.online[f.vendor.ID] = true

	msg, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "Is this in stock?",
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.RoleCustomer), msg.SenderRole)

	got, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Is this in stock?", got.LastMessageText)
	assert.Equal(t, int64(1), got.TotalMessages)

	rooms := f.bcast.byEvent(EvMessageNew)
	require.Len(t, rooms, 1)
	assert.Equal(t, conv.ID.String(), rooms[0].Room)

	// The broadcast carries the populated message, sender included.
	frame, ok := rooms[0].Data.(map[string]interface{})
	require.True(t, ok)
	sent, ok := frame["message"].(*models.Message)
	require.True(t, ok)
	require.NotNil(t, sent.Sender)
	assert.Equal(t, "budi", sent.Sender.Name)

	// The vendor is online: durable notification plus the live push.
	pushes := f.bcast.byEvent(EvNotificationNew)
	require.Len(t, pushes, 1)
	assert.Equal(t, f.vendor.ID, pushes[0].User)

	ns, err := f.store.ListNotifications(ctx, f.vendor.ID, true, 1, 20)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotificationNewMessage, ns[0].Type)
	assert.Equal(t, "Is this in stock?", ns[0].Content)
}

func TestSendMessageOfflineRecipientGetsDurableNotificationOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	_, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "hello?",
	})
	require.NoError(t, err)

	assert.Empty(t, f.bcast.byEvent(EvNotificationNew))

	ns, err := f.store.ListNotifications(ctx, f.vendor.ID, true, 1, 20)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestSendMessageBlockedConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)
	require.NoError(t, f.store.SetBlocked(ctx, conv.ID, f.admin.ID, "spam", true))

	_, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "still there?",
	})
	assert.Equal(t, KindAuthorization, KindOf(err))

	// Read access survives the block.
	_, err = f.engine.JoinConversation(ctx, identity(f.customer), conv.ID)
	assert.NoError(t, err)

	// Nothing hit the wire and nothing was stored.
	assert.Empty(t, f.bcast.byEvent(EvMessageNew))
	var n int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSendMessageTextBoundary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	atLimit := strings.Repeat("a", models.MaxMessageTextLen)
	_, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           atLimit,
	})
	assert.NoError(t, err)

	_, err = f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           atLimit + "a",
	})
	assert.Equal(t, KindValidation, KindOf(err))

	// The rejected send never reached the store.
	var n int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSendMessageRequiresFilePayload(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	_, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageImage,
	})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageImage,
		File: &FilePayload{
			FileURL:  "/uploads/chat/a.png",
			FileName: "a.png",
			FileSize: 1024,
			MimeType: "image/png",
		},
	})
	assert.NoError(t, err)
}

func TestSendMessageAccessDeniedForOutsider(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)
	outsider := seedUser(t, f.db, "outsider", models.RoleCustomer)

	_, err := f.engine.SendMessage(ctx, identity(outsider), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "let me in",
	})
	assert.Equal(t, KindAuthorization, KindOf(err))
}

func TestTypingBroadcastExcludesActor(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	require.NoError(t, f.engine.Typing(ctx, identity(f.customer), conv.ID, true))

	events := f.bcast.byEvent(EvUserTyping)
	require.Len(t, events, 1)
	assert.Equal(t, conv.ID.String(), events[0].Room)
	assert.Equal(t, f.customer.ID, events[0].Except)

	// Restarting while already typing still rebroadcasts.
	require.NoError(t, f.engine.Typing(ctx, identity(f.customer), conv.ID, true))
	assert.Len(t, f.bcast.byEvent(EvUserTyping), 2)

	require.NoError(t, f.engine.Typing(ctx, identity(f.customer), conv.ID, false))
	stops := f.bcast.byEvent(EvUserStopTyping)
	require.Len(t, stops, 1)
	ev, ok := stops[0].Data.(TypingEvent)
	require.True(t, ok)
	assert.Equal(t, f.customer.ID.String(), ev.UserID)
	assert.Equal(t, "budi", ev.UserName)
}

func TestMarkMessageReadReceiptOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	msg, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "read me",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.MarkMessageRead(ctx, identity(f.vendor), msg.ID))
	require.NoError(t, f.engine.MarkMessageRead(ctx, identity(f.vendor), msg.ID))

	// Receipt goes to the sender exactly once.
	receipts := f.bcast.byEvent(EvMessageReadReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, f.customer.ID, receipts[0].User)
	ev, ok := receipts[0].Data.(ReadReceiptEvent)
	require.True(t, ok)
	assert.Equal(t, msg.ID.String(), ev.MessageID)
	assert.Equal(t, f.vendor.ID.String(), ev.ReadBy)

	// Reading your own message produces no receipt.
	require.NoError(t, f.engine.MarkMessageRead(ctx, identity(f.customer), msg.ID))
	assert.Len(t, f.bcast.byEvent(EvMessageReadReceipt), 1)

	// Vanished message is a silent no-op.
	require.NoError(t, f.engine.MarkMessageRead(ctx, identity(f.vendor), uuid.New()))
}

func TestMarkConversationRead(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.CreateMessage(ctx, textMessage(conv, f.customer, "m", base.Add(time.Duration(i)*time.Second))))
	}

	marked, err := f.engine.MarkConversationRead(ctx, identity(f.vendor), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, marked)
	assert.Len(t, f.bcast.byEvent(EvMessageReadReceipt), 3)

	// Re-running the sweep is a no-op.
	marked, err = f.engine.MarkConversationRead(ctx, identity(f.vendor), conv.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Len(t, f.bcast.byEvent(EvMessageReadReceipt), 3)
}

func TestBlockConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	err := f.engine.BlockConversation(ctx, identity(f.customer), conv.ID, "spam")
	assert.Equal(t, KindAuthorization, KindOf(err))

	require.NoError(t, f.engine.BlockConversation(ctx, identity(f.admin), conv.ID, "spam"))

	got, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationBlocked, got.Status)
	require.NotNil(t, got.BlockedBy)
	assert.Equal(t, f.admin.ID, *got.BlockedBy)
	assert.Equal(t, "spam", got.FlaggedReason)

	// Each participant gets a warning notification plus the live event.
	blocked := f.bcast.byEvent(EvConversationBlocked)
	require.Len(t, blocked, 2)
	targets := map[uuid.UUID]bool{blocked[0].User: true, blocked[1].User: true}
	assert.True(t, targets[f.customer.ID])
	assert.True(t, targets[f.vendor.ID])

	ns, err := f.store.ListNotifications(ctx, f.customer.ID, true, 1, 20)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotificationAdminWarning, ns[0].Type)

	require.NoError(t, f.engine.UnblockConversation(ctx, identity(f.admin), conv.ID))
	got, err = f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, got.Status)
	assert.Len(t, f.bcast.byEvent(EvConversationUnblocked), 2)
}

func TestAnnounce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	other := seedUser(t, f.db, "siti", models.RoleCustomer)
	conv1 := seedConversation(t, f.store, f.customer, f.vendor)
	conv2 := seedConversation(t, f.store, other, f.vendor)
	blocked := seedConversation(t, f.store, f.customer, f.admin)
	require.NoError(t, f.store.SetBlocked(ctx, blocked.ID, f.admin.ID, "spam", true))

	_, err := f.engine.Announce(ctx, identity(f.customer), "promo", "")
	assert.Equal(t, KindAuthorization, KindOf(err))

	_, err = f.engine.Announce(ctx, identity(f.admin), "", "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.engine.Announce(ctx, identity(f.admin), "promo", "reseller")
	assert.Equal(t, KindValidation, KindOf(err))

	sent, err := f.engine.Announce(ctx, identity(f.admin), "Maintenance at 02:00", "")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	rooms := map[string]bool{}
	for _, e := range f.bcast.byEvent(EvMessageNew) {
		rooms[e.Room] = true
	}
	assert.True(t, rooms[conv1.ID.String()])
	assert.True(t, rooms[conv2.ID.String()])
	assert.False(t, rooms[blocked.ID.String()])

	msgs, err := f.store.ListMessages(ctx, conv1.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderRoleSystem, msgs[0].SenderRole)
	assert.Equal(t, models.MessageSystem, msgs[0].Type)

	// Role targeting: only conversations with a vendor participant.
	sent, err = f.engine.Announce(ctx, identity(f.admin), "Vendor policy update", string(models.RoleVendor))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conv := seedConversation(t, f.store, f.customer, f.vendor)

	msg, err := f.engine.SendMessage(ctx, identity(f.customer), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "oops",
	})
	require.NoError(t, err)

	err = f.engine.DeleteMessage(ctx, identity(f.vendor), msg.ID)
	assert.Equal(t, KindAuthorization, KindOf(err))

	require.NoError(t, f.engine.DeleteMessage(ctx, identity(f.customer), msg.ID))

	msgs, err := f.store.ListMessages(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Admin can delete anyone's message.
	msg2, err := f.engine.SendMessage(ctx, identity(f.vendor), SendInput{
		ConversationID: conv.ID,
		Type:           models.MessageText,
		Text:           "mine",
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteMessage(ctx, identity(f.admin), msg2.ID))
}

func TestRetentionSweep(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := seedConversation(t, f.store, f.customer, f.vendor)
	stale := models.ChatNotification{
		UserID:         f.vendor.ID,
		ConversationID: conv.ID,
		Type:           models.NotificationNewMessage,
		CreatedAt:      time.Now().Add(-31 * 24 * time.Hour),
	}
	require.NoError(t, f.store.CreateNotification(ctx, &stale))
	require.NoError(t, f.store.MarkNotificationRead(ctx, stale.ID, f.vendor.ID))
	require.NoError(t, f.db.Model(&models.ChatNotification{}).
		Where("id = ?", stale.ID).
		Update("read_at", stale.CreatedAt).Error)

	StartRetentionSweep(ctx, f.store, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		var n int64
		return f.db.Model(&models.ChatNotification{}).Count(&n).Error == nil && n == 0
	}, time.Second, 20*time.Millisecond)
}
