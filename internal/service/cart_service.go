package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Mazaadak/mazadak-cart-service/internal/cache"
	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
	"github.com/Mazaadak/mazadak-cart-service/internal/repository"
)

// ProductCatalog resolves product display metadata in one batch call.
// Ids without a matching product may be omitted from the result.
type ProductCatalog interface {
	FetchByIDs(ctx context.Context, productIDs []uuid.UUID) ([]domain.Product, error)
}

type Config struct {
	// ClearRequiresActive applies the active-status gate to ClearCart as
	// well. Off by default: checkout completion clears the cart while it is
	// still INACTIVE.
	ClearRequiresActive bool
}

// CartService owns the cart aggregate: creation on demand, merge-on-add,
// quantity arithmetic with removal on zero, and the ACTIVE/INACTIVE gate.
type CartService struct {
	carts   repository.CartStore
	items   repository.CartItemStore
	catalog ProductCatalog
	cache   cache.CartCache
	logger  *slog.Logger
	cfg     Config
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(
	carts repository.CartStore,
	items repository.CartItemStore,
	catalog ProductCatalog,
	cartCache cache.CartCache,
	logger *slog.Logger,
	cfg Config,
) *CartService {
	return &CartService{
		carts:   carts,
		items:   items,
		catalog: catalog,
		cache:   cartCache,
		logger:  logger,
		cfg:     cfg,
	}
}

// GetOrCreateCart resolves the user's cart, lazily creating an ACTIVE one on
// first contact. Concurrent first requests resolve on the unique active-cart
// index: the losing insert re-reads the winner's row.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	s.logger.Info("creating new cart", "user_id", userID)
	cart, err = s.carts.CreateActive(ctx, userID, userID.String())
	if errors.Is(err, repository.ErrDuplicateCart) {
		return s.carts.FindActiveByUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// GetCart returns the user's cart with its items, creating the cart if the
// user has none. Readable regardless of status. Served through the cache;
// concurrent misses for the same user collapse into one store read.
func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID.String(), func() (interface{}, error) {
		cached, cacheErr := s.cache.Get(ctx, userID)
		if cacheErr == nil {
			return cached, nil
		}
		if !errors.Is(cacheErr, cache.ErrCacheMiss) {
			s.logger.Warn("cart cache get failed", "user_id", userID, "error", cacheErr)
		}

		cart, loadErr := s.loadCartWithItems(ctx, userID)
		if loadErr != nil {
			return nil, loadErr
		}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if setErr := s.cache.Set(setCtx, userID, cart); setErr != nil {
				s.logger.Warn("cart cache set failed", "user_id", userID, "error", setErr)
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *CartService) loadCartWithItems(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.FindAllByCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	cart.Items = items
	return cart, nil
}

// GetCartItems returns the item lines of the user's cart, creating the cart
// if absent.
func (s *CartService) GetCartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.items.FindAllByCart(ctx, cart.ID)
}

// AddItem merges the quantity into an existing line for the product or
// creates a new one, and returns the line with its final quantity.
func (s *CartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCartStatus(cart); err != nil {
		return nil, err
	}

	item, err := s.items.UpsertIncrement(ctx, cart.ID, productID, quantity, userID.String())
	if err != nil {
		return nil, err
	}
	s.logger.Info("item added to cart",
		"user_id", userID, "product_id", productID, "quantity", item.Quantity)

	s.invalidateCache(userID)
	return item, nil
}

// UpdateItemQuantity sets the line quantity to an absolute value. Never
// creates a cart or a line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, error) {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCartStatus(cart); err != nil {
		return nil, err
	}

	item, err := s.items.SetQuantity(ctx, cart.ID, productID, quantity, userID.String())
	if err != nil {
		return nil, err
	}
	s.logger.Info("item quantity updated",
		"user_id", userID, "product_id", productID, "quantity", quantity)

	s.invalidateCache(userID)
	return item, nil
}

// ReduceItemQuantity subtracts from the line quantity. A reduction to zero
// or below removes the line; the returned item is nil and removed is true.
func (s *CartService) ReduceItemQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, bool, error) {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if err := s.checkCartStatus(cart); err != nil {
		return nil, false, err
	}

	item, removed, err := s.items.Decrement(ctx, cart.ID, productID, quantity, userID.String())
	if err != nil {
		return nil, false, err
	}
	if removed {
		s.logger.Info("item depleted and removed from cart",
			"user_id", userID, "product_id", productID)
	} else {
		s.logger.Info("item quantity reduced",
			"user_id", userID, "product_id", productID, "quantity", item.Quantity)
	}

	s.invalidateCache(userID)
	return item, removed, nil
}

// RemoveItem deletes the line for the product from the user's cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.checkCartStatus(cart); err != nil {
		return err
	}

	if err := s.items.Delete(ctx, cart.ID, productID); err != nil {
		return err
	}
	s.logger.Info("item removed from cart", "user_id", userID, "product_id", productID)

	s.invalidateCache(userID)
	return nil
}

// ClearCart deletes every line of the cart in one bulk statement. The cart
// row itself is retained. Allowed for an INACTIVE cart unless configured
// otherwise, since checkout completion clears a deactivated cart.
func (s *CartService) ClearCart(ctx context.Context, userID uuid.UUID) error {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.cfg.ClearRequiresActive {
		if err := s.checkCartStatus(cart); err != nil {
			return err
		}
	}

	if err := s.items.DeleteAllByCart(ctx, cart.ID); err != nil {
		return err
	}
	s.logger.Info("cart cleared", "user_id", userID, "cart_id", cart.ID)

	s.invalidateCache(userID)
	return nil
}

// ActivateCart sets the cart status to ACTIVE. Idempotent.
func (s *CartService) ActivateCart(ctx context.Context, userID uuid.UUID) error {
	return s.setStatus(ctx, userID, domain.StatusActive)
}

// DeactivateCart sets the cart status to INACTIVE. Idempotent.
func (s *CartService) DeactivateCart(ctx context.Context, userID uuid.UUID) error {
	return s.setStatus(ctx, userID, domain.StatusInactive)
}

func (s *CartService) setStatus(ctx context.Context, userID uuid.UUID, status domain.Status) error {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.carts.SetStatus(ctx, cart.ID, status, userID.String()); err != nil {
		return err
	}
	s.logger.Info("cart status changed", "user_id", userID, "status", status)

	s.invalidateCache(userID)
	return nil
}

// IsActive reports whether the user's cart is ACTIVE, creating the cart if
// the user has none.
func (s *CartService) IsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return false, err
	}
	return cart.IsActive(), nil
}

// GetDetailedCartItems joins cart lines with catalog display metadata.
// The catalog is called once with the full batch of product ids; an id the
// catalog cannot resolve fails the whole request, since a cart referencing
// an unknown product is an inconsistency rather than a skippable gap.
func (s *CartService) GetDetailedCartItems(ctx context.Context, userID uuid.UUID) ([]domain.DetailedCartItem, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.FindAllByCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []domain.DetailedCartItem{}, nil
	}

	// Unique (cart, product) already guarantees distinct ids.
	productIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.catalog.FetchByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCatalogUnavailable, err)
	}

	productMap := make(map[uuid.UUID]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ProductID] = p
	}

	detailed := make([]domain.DetailedCartItem, 0, len(items))
	for _, item := range items {
		product, ok := productMap[item.ProductID]
		if !ok {
			s.logger.Error("product missing from catalog response",
				"user_id", userID, "product_id", item.ProductID)
			return nil, fmt.Errorf("%w: %s", ErrProductMissing, item.ProductID)
		}
		detailed = append(detailed, domain.DetailedCartItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Title:       product.Title,
			Description: product.Description,
			Price:       product.Price,
			ImageURI:    product.DisplayImage(),
		})
	}
	return detailed, nil
}

// checkCartStatus is the shared mutation gate.
func (s *CartService) checkCartStatus(cart *domain.Cart) error {
	if !cart.IsActive() {
		return ErrCartNotActive
	}
	return nil
}

func (s *CartService) invalidateCache(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cart cache invalidate failed", "user_id", userID, "error", err)
	}
}
