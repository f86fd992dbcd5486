package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prasetyowira/tokoar_be/internal/middleware"
	"github.com/prasetyowira/tokoar_be/internal/models"
)

const testSecret = "test-secret"

func newAuthApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	h := &AuthHandler{DB: db, JWTSecret: testSecret, Expires: 60}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/auth/register", h.Register)
	app.Post("/api/auth/login", h.Login)

	bearer := middleware.JWTBearer(db, testSecret)
	app.Get("/api/me", bearer, h.Me)
	app.Get("/api/ping", bearer, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})
	return app, db
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	app, _ := newAuthApp(t)

	resp, body := postJSON(t, app, "/api/auth/register",
		`{"name":"Budi","email":"Budi@Example.com","password":"secret1","role":"vendor"}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.NotEmpty(t, data["token"])
	user := data["user"].(map[string]interface{})
	assert.Equal(t, "budi@example.com", user["email"])
	assert.Equal(t, "vendor", user["role"])

	// Duplicate email is rejected.
	resp, _ = postJSON(t, app, "/api/auth/register",
		`{"name":"Budi","email":"budi@example.com","password":"secret1"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Login with the right credentials; email matching is case-insensitive.
	resp, body = postJSON(t, app, "/api/auth/login",
		`{"email":"BUDI@example.com","password":"secret1"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["data"].(map[string]interface{})["token"])

	resp, _ = postJSON(t, app, "/api/auth/login",
		`{"email":"budi@example.com","password":"wrong"}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	app, _ := newAuthApp(t)

	resp, _ := postJSON(t, app, "/api/auth/register",
		`{"name":"","email":"a@b.c","password":"secret1"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, app, "/api/auth/register",
		`{"name":"A","email":"not-an-email","password":"secret1"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, app, "/api/auth/register",
		`{"name":"A","email":"a@b.c","password":"short"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Admin is never self-service; the role silently falls back to customer.
	resp, body := postJSON(t, app, "/api/auth/register",
		`{"name":"A","email":"a@b.c","password":"secret1","role":"admin"}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	user := body["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "customer", user["role"])
}

func TestMeRequiresValidBearer(t *testing.T) {
	app, db := newAuthApp(t)

	_, body := postJSON(t, app, "/api/auth/register",
		`{"name":"Siti","email":"siti@example.com","password":"secret1"}`)
	token := body["data"].(map[string]interface{})["token"].(string)

	// Middleware rejections carry the same JSON envelope as handler errors.
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	envelope := decodeBody(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.NotEmpty(t, envelope["message"])

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	got := decodeBody(t, resp)
	assert.Equal(t, "siti@example.com", got["data"].(map[string]interface{})["email"])

	// Disabled accounts lose REST access immediately.
	require.NoError(t, db.Model(&models.User{}).
		Where("email = ?", "siti@example.com").
		Update("is_active", false).Error)
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

// The bearer middleware itself enforces the active flag, so every protected
// route rejects a disabled account even with an unexpired token.
func TestDisabledAccountLosesBearerAccess(t *testing.T) {
	app, db := newAuthApp(t)

	_, body := postJSON(t, app, "/api/auth/register",
		`{"name":"Rina","email":"rina@example.com","password":"secret1"}`)
	token := body["data"].(map[string]interface{})["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NoError(t, db.Model(&models.User{}).
		Where("email = ?", "rina@example.com").
		Update("is_active", false).Error)

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, false, decodeBody(t, resp)["success"])
}
