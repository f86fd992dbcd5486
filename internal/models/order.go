package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order is an opaque context reference for order-support conversations.
// Placement and fulfillment are handled elsewhere.
type Order struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID uuid.UUID `gorm:"type:uuid;index" json:"customer_id"`
	VendorID   uuid.UUID `gorm:"type:uuid;index" json:"vendor_id"`
	ProductID  *uint     `gorm:"index" json:"product_id,omitempty"`

	Status string `gorm:"type:varchar(20);default:'pending'" json:"status"`
	Total  int64  `json:"total"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) (err error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return
}
