package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is display metadata fetched from the product catalog. It is joined
// into detailed cart views in memory and never persisted.
type Product struct {
	ProductID   uuid.UUID       `json:"productId"`
	SellerID    uuid.UUID       `json:"sellerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Images      []ProductImage  `json:"images"`
}

type ProductImage struct {
	URI          string `json:"imageUri"`
	IsPrimary    bool   `json:"isPrimary"`
	DisplayOrder int    `json:"displayOrder"`
}

// DisplayImage picks the image flagged primary, falling back to the first
// image. Empty string when the product has no images.
func (p Product) DisplayImage() string {
	for _, img := range p.Images {
		if img.IsPrimary {
			return img.URI
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0].URI
	}
	return ""
}

// DetailedCartItem is a cart line joined with catalog display metadata.
type DetailedCartItem struct {
	ProductID   uuid.UUID       `json:"product_id"`
	Quantity    int32           `json:"quantity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURI    string          `json:"image_uri,omitempty"`
}
