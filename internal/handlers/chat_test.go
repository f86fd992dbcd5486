package handlers

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/models"
)

func newConversationApp(t *testing.T) (*fiber.App, *gorm.DB, models.User, models.User) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageRead{},
	))

	customer := models.User{Name: "budi", Email: "budi@example.com", Password: "x", Role: models.RoleCustomer, IsActive: true}
	vendor := models.User{Name: "toko-ar", Email: "toko@example.com", Password: "x", Role: models.RoleVendor, IsActive: true}
	require.NoError(t, db.Create(&customer).Error)
	require.NoError(t, db.Create(&vendor).Error)

	h := NewChatHandler(chat.NewStore(db), nil)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/conversations", func(c *fiber.Ctx) error {
		c.Locals("userId", customer.ID.String())
		c.Locals("role", string(customer.Role))
		return c.Next()
	}, h.CreateOrGetConversation)
	return app, db, customer, vendor
}

func TestCreateOrGetConversation(t *testing.T) {
	app, _, _, vendor := newConversationApp(t)

	resp, body := postJSON(t, app, "/api/conversations",
		`{"vendor_id":"`+vendor.ID.String()+`","subject":"AR Sofa"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["created"])

	// Same pair resolves to the existing thread.
	resp, body = postJSON(t, app, "/api/conversations",
		`{"vendor_id":"`+vendor.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["created"])
}

func TestCreateConversationRejectsSelf(t *testing.T) {
	app, db, customer, _ := newConversationApp(t)

	// Direct self-reference via vendor_id.
	resp, body := postJSON(t, app, "/api/conversations",
		`{"vendor_id":"`+customer.ID.String()+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	// Inquiring about your own product resolves to the same self-pair.
	own := models.Product{VendorID: customer.ID, Title: "My lamp"}
	require.NoError(t, db.Create(&own).Error)
	resp, _ = postJSON(t, app, "/api/conversations",
		`{"product_id":`+strconv.FormatUint(uint64(own.ID), 10)+`}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var n int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateConversationUnknownTargets(t *testing.T) {
	app, _, _, _ := newConversationApp(t)

	resp, _ := postJSON(t, app, "/api/conversations", `{"product_id":9999}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, app, "/api/conversations",
		`{"vendor_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, app, "/api/conversations", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
