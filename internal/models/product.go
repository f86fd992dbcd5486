package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Product is the catalog record conversations reference as context. The
// catalog CRUD itself is owned by another service; this table only carries
// what chat needs to validate and display a product.
type Product struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	VendorID uuid.UUID `gorm:"type:uuid;not null;index" json:"vendor_id"`

	Title    string `json:"title"`
	Category string `json:"category"`
	Price    int64  `json:"price"`

	CoverURL string         `json:"cover_url"`
	ARAssets datatypes.JSON `json:"ar_assets"` // model/texture URLs for the 3D viewer

	Status string `gorm:"type:varchar(20);default:'published'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Vendor *User `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
}
