package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
)

// CartCache holds the per-user cart projection for the read path. Mutations
// invalidate; never written to on the write path.
type CartCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	Set(ctx context.Context, userID uuid.UUID, cart *domain.Cart) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

var ErrCacheMiss = errors.New("cache miss")
