package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle gate of a cart. An INACTIVE cart rejects item
// mutations until it is activated again (e.g. while checkout is in flight).
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

type Cart struct {
	ID        uuid.UUID  `json:"cart_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Status    Status     `json:"status"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedBy string     `json:"created_by,omitempty"`
	UpdatedBy string     `json:"updated_by,omitempty"`
}

func (c *Cart) IsActive() bool {
	return c.Status == StatusActive
}

// CartItem is one (product, quantity) line. A product appears at most once
// per cart; quantity is always >= 1 while the row exists.
type CartItem struct {
	ID        uuid.UUID `json:"item_id"`
	CartID    uuid.UUID `json:"cart_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}
