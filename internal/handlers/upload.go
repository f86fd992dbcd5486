package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/models"
)

const maxUploadSize = 5 * 1024 * 1024 // 5MB

// Allowed attachment types: images, PDF and Word documents.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/webp":         true,
	"image/gif":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// UploadHandler accepts a chat attachment, stores it and sends the file
// message through the engine so the broadcast and notification side effects
// mirror the realtime path.
type UploadHandler struct {
	Engine    *chat.Engine
	UploadDir string
	BaseURL   string
}

func NewUploadHandler(engine *chat.Engine, uploadDir, baseURL string) *UploadHandler {
	return &UploadHandler{Engine: engine, UploadDir: uploadDir, BaseURL: baseURL}
}

func (h *UploadHandler) UploadMessage(c *fiber.Ctx) error {
	ident, err := getIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	convID, err := uuid.Parse(c.FormValue("conversation_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "File is required"})
	}
	if file.Size <= 0 || file.Size > maxUploadSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "File must be between 1 byte and 5MB"})
	}

	mimeType := file.Header.Get("Content-Type")
	if !allowedMimeTypes[mimeType] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Unsupported file type"})
	}

	dir := filepath.Join(h.UploadDir, "chat")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to store file"})
	}

	name := fmt.Sprintf("%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveFile(file, filepath.Join(dir, name)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to store file"})
	}

	msgType := models.MessageFile
	if strings.HasPrefix(mimeType, "image/") {
		msgType = models.MessageImage
	}

	msg, err := h.Engine.SendMessage(c.Context(), ident, chat.SendInput{
		ConversationID: convID,
		Type:           msgType,
		Text:           c.FormValue("text"),
		File: &chat.FilePayload{
			FileURL:  h.BaseURL + "/uploads/chat/" + name,
			FileName: file.Filename,
			FileSize: file.Size,
			MimeType: mimeType,
		},
	})
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": msg})
}
