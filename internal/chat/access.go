package chat

import (
	"github.com/google/uuid"

	"github.com/prasetyowira/tokoar_be/internal/models"
)

// CanAccess reports whether the user may join, read or send in the
// conversation: participants and admins only. Sharing a product or order
// context with the thread grants nothing — membership is the sole
// authorization unit.
func CanAccess(conv *models.Conversation, userID uuid.UUID, role models.Role) bool {
	if role == models.RoleAdmin {
		return true
	}
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsParticipant ignores the admin override.
func IsParticipant(conv *models.Conversation, userID uuid.UUID) bool {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
