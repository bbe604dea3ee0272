package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
)

var (
	ErrCartNotFound  = errors.New("cart not found")
	ErrItemNotFound  = errors.New("item not found in cart")
	ErrDuplicateCart = errors.New("active cart already exists for user")
)

// CartStore persists cart rows. At most one ACTIVE cart exists per user;
// the implementation enforces this with a unique constraint, so CreateActive
// returns ErrDuplicateCart when a concurrent caller won the insert race.
type CartStore interface {
	// FindByUser resolves the user's cart regardless of status, so a cart
	// deactivated for checkout can still be cleared and reactivated. With
	// several resting carts the most recently updated one wins.
	FindByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	FindByID(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error)
	CreateActive(ctx context.Context, userID uuid.UUID, actor string) (*domain.Cart, error)
	SetStatus(ctx context.Context, cartID uuid.UUID, status domain.Status, actor string) error
}

// CartItemStore persists cart lines, unique on (cart_id, product_id).
// UpsertIncrement and Decrement are atomic at the storage layer so that
// concurrent merges on the same line never lose an update.
type CartItemStore interface {
	FindAllByCart(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error)
	FindByCartAndProduct(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error)

	// UpsertIncrement inserts the line with the given quantity, or adds the
	// quantity to the existing line, in a single atomic statement.
	UpsertIncrement(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error)

	// SetQuantity sets the line quantity to an absolute value. Never creates
	// a line; returns ErrItemNotFound when the product is not in the cart.
	SetQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error)

	// Decrement subtracts quantity from the line, deleting the row when the
	// result drops to zero or below. The removed flag reports deletion; the
	// item is nil in that case.
	Decrement(ctx context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (item *domain.CartItem, removed bool, err error)

	Delete(ctx context.Context, cartID, productID uuid.UUID) error
	DeleteAllByCart(ctx context.Context, cartID uuid.UUID) error
}
