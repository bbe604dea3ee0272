package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mazaadak/mazadak-cart-service/internal/cache"
	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
	"github.com/Mazaadak/mazadak-cart-service/internal/repository"
)

type mockStore struct {
	m           sync.RWMutex
	carts       []*domain.Cart
	items       []domain.CartItem
	err         error
	createCalls int

	// raceOnFind simulates the window where a concurrent request inserted
	// the cart after this request's lookup: FindByUser reports not-found
	// even though the row exists.
	raceOnFind bool
}

func (s *mockStore) FindByUser(_ context.Context, userID uuid.UUID) (*domain.Cart, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.raceOnFind {
		return nil, repository.ErrCartNotFound
	}
	for i := len(s.carts) - 1; i >= 0; i-- {
		if s.carts[i].UserID == userID {
			c := *s.carts[i]
			return &c, nil
		}
	}
	return nil, repository.ErrCartNotFound
}

func (s *mockStore) FindActiveByUser(_ context.Context, userID uuid.UUID) (*domain.Cart, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == domain.StatusActive {
			cc := *c
			return &cc, nil
		}
	}
	return nil, repository.ErrCartNotFound
}

func (s *mockStore) FindByID(_ context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.carts {
		if c.ID == cartID {
			cc := *c
			return &cc, nil
		}
	}
	return nil, repository.ErrCartNotFound
}

func (s *mockStore) CreateActive(_ context.Context, userID uuid.UUID, actor string) (*domain.Cart, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.createCalls++
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == domain.StatusActive {
			return nil, repository.ErrDuplicateCart
		}
	}
	cart := &domain.Cart{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.StatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	s.carts = append(s.carts, cart)
	cc := *cart
	return &cc, nil
}

func (s *mockStore) SetStatus(_ context.Context, cartID uuid.UUID, status domain.Status, actor string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, c := range s.carts {
		if c.ID == cartID {
			c.Status = status
			c.UpdatedBy = actor
			return nil
		}
	}
	return repository.ErrCartNotFound
}

func (s *mockStore) FindAllByCart(_ context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.CartItem
	for _, it := range s.items {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *mockStore) FindByCartAndProduct(_ context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, it := range s.items {
		if it.CartID == cartID && it.ProductID == productID {
			cp := it
			return &cp, nil
		}
	}
	return nil, repository.ErrItemNotFound
}

func (s *mockStore) UpsertIncrement(_ context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.items {
		if s.items[i].CartID == cartID && s.items[i].ProductID == productID {
			s.items[i].Quantity += quantity
			s.items[i].UpdatedBy = actor
			cp := s.items[i]
			return &cp, nil
		}
	}
	item := domain.CartItem{
		ID:        uuid.New(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	s.items = append(s.items, item)
	return &item, nil
}

func (s *mockStore) SetQuantity(_ context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.items {
		if s.items[i].CartID == cartID && s.items[i].ProductID == productID {
			s.items[i].Quantity = quantity
			s.items[i].UpdatedBy = actor
			cp := s.items[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrItemNotFound
}

func (s *mockStore) Decrement(_ context.Context, cartID, productID uuid.UUID, quantity int32, actor string) (*domain.CartItem, bool, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	for i := range s.items {
		if s.items[i].CartID == cartID && s.items[i].ProductID == productID {
			if s.items[i].Quantity <= quantity {
				s.items = append(s.items[:i], s.items[i+1:]...)
				return nil, true, nil
			}
			s.items[i].Quantity -= quantity
			s.items[i].UpdatedBy = actor
			cp := s.items[i]
			return &cp, false, nil
		}
	}
	return nil, false, repository.ErrItemNotFound
}

func (s *mockStore) Delete(_ context.Context, cartID, productID uuid.UUID) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	for i := range s.items {
		if s.items[i].CartID == cartID && s.items[i].ProductID == productID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (s *mockStore) DeleteAllByCart(_ context.Context, cartID uuid.UUID) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	var kept []domain.CartItem
	for _, it := range s.items {
		if it.CartID != cartID {
			kept = append(kept, it)
		}
	}
	s.items = kept
	return nil
}

func (s *mockStore) itemCount(cartID uuid.UUID) int {
	s.m.RLock()
	defer s.m.RUnlock()
	n := 0
	for _, it := range s.items {
		if it.CartID == cartID {
			n++
		}
	}
	return n
}

type mockCatalog struct {
	m        sync.Mutex
	products []domain.Product
	err      error
	calls    int
	lastIDs  []uuid.UUID
}

func (c *mockCatalog) FetchByIDs(_ context.Context, productIDs []uuid.UUID) ([]domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.calls++
	c.lastIDs = productIDs
	if c.err != nil {
		return nil, c.err
	}
	return c.products, nil
}

func (c *mockCatalog) callCount() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.calls
}

type mockCache struct {
	m     sync.RWMutex
	carts map[uuid.UUID]*domain.Cart
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[uuid.UUID]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, userID uuid.UUID) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, userID uuid.UUID, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[userID] = cart
	return m.err
}

func (m *mockCache) Delete(_ context.Context, userID uuid.UUID) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, userID)
	return m.err
}

func (m *mockCache) getCart(userID uuid.UUID) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[userID]
}

func newTestService(store *mockStore, catalog *mockCatalog, c *mockCache, cfg Config) *CartService {
	logg := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCartService(store, store, catalog, c, logg, cfg)
}

func activeCart(userID uuid.UUID) *domain.Cart {
	return &domain.Cart{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.StatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestGetOrCreateCart_IdempotentForNewUser(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})
	userID := uuid.New()

	first, err := sut.GetOrCreateCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, first.Status)

	second, err := sut.GetOrCreateCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.carts, 1)
}

func TestGetOrCreateCart_InsertConflictFallsBackToRead(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})
	userID := uuid.New()

	// A concurrent winner inserted the cart after this request's lookup;
	// the insert conflicts on the unique active index and the service must
	// fall back to reading the winner's row.
	winner, err := store.CreateActive(context.Background(), userID, userID.String())
	require.NoError(t, err)
	store.raceOnFind = true

	cart, err := sut.GetOrCreateCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, cart.ID)
	assert.Len(t, store.carts, 1)
	assert.Equal(t, 2, store.createCalls, "losing insert should have been attempted")
}

func TestAddItem_NewUserCreatesOneActiveCartAndItem(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})
	userID := uuid.New()
	productID := uuid.New()

	item, err := sut.AddItem(context.Background(), userID, productID, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), item.Quantity)
	assert.Equal(t, productID, item.ProductID)

	require.Len(t, store.carts, 1)
	assert.Equal(t, domain.StatusActive, store.carts[0].Status)
	assert.Equal(t, 1, store.itemCount(store.carts[0].ID))
}

func TestAddItem_MergesQuantityForExistingProduct(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})
	userID := uuid.New()
	productID := uuid.New()

	_, err := sut.AddItem(context.Background(), userID, productID, 2)
	require.NoError(t, err)

	item, err := sut.AddItem(context.Background(), userID, productID, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(7), item.Quantity)
	assert.Equal(t, 1, store.itemCount(store.carts[0].ID))
}

func TestAddItem_InactiveCartRejected(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	cart.Status = domain.StatusInactive
	store := &mockStore{carts: []*domain.Cart{cart}}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	_, err := sut.AddItem(context.Background(), userID, uuid.New(), 1)
	require.ErrorIs(t, err, ErrCartNotActive)
	assert.Equal(t, 0, store.itemCount(cart.ID))
}

func TestUpdateItemQuantity_SetsAbsoluteValue(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	productID := uuid.New()
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 2}},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	item, err := sut.UpdateItemQuantity(context.Background(), userID, productID, 9)
	require.NoError(t, err)
	assert.Equal(t, int32(9), item.Quantity)
}

func TestUpdateItemQuantity_NoCart(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	_, err := sut.UpdateItemQuantity(context.Background(), uuid.New(), uuid.New(), 2)
	require.ErrorIs(t, err, repository.ErrCartNotFound)
	assert.Empty(t, store.carts, "update must not create a cart")
}

func TestUpdateItemQuantity_NeverCreatesItem(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	store := &mockStore{carts: []*domain.Cart{cart}}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	_, err := sut.UpdateItemQuantity(context.Background(), userID, uuid.New(), 2)
	require.ErrorIs(t, err, repository.ErrItemNotFound)
	assert.Equal(t, 0, store.itemCount(cart.ID))
}

func TestReduceItemQuantity_PartialReduce(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	productID := uuid.New()
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 5}},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	item, removed, err := sut.ReduceItemQuantity(context.Background(), userID, productID, 2)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, int32(3), item.Quantity)
}

func TestReduceItemQuantity_RemovesOnZeroOrBelow(t *testing.T) {
	for _, decrement := range []int32{2, 5} {
		t.Run(fmt.Sprintf("decrement_%d", decrement), func(t *testing.T) {
			userID := uuid.New()
			cart := activeCart(userID)
			productID := uuid.New()
			store := &mockStore{
				carts: []*domain.Cart{cart},
				items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 2}},
			}
			sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

			item, removed, err := sut.ReduceItemQuantity(context.Background(), userID, productID, decrement)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Nil(t, item)
			assert.Equal(t, 0, store.itemCount(cart.ID))
		})
	}
}

func TestReduceItemQuantity_MissingItem(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	store := &mockStore{carts: []*domain.Cart{cart}}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	_, _, err := sut.ReduceItemQuantity(context.Background(), userID, uuid.New(), 1)
	require.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestRemoveItem_Success(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	productID := uuid.New()
	keep := uuid.New()
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{
			{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 1},
			{ID: uuid.New(), CartID: cart.ID, ProductID: keep, Quantity: 4},
		},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	err := sut.RemoveItem(context.Background(), userID, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.itemCount(cart.ID))

	remaining, err := store.FindByCartAndProduct(context.Background(), cart.ID, keep)
	require.NoError(t, err)
	assert.Equal(t, int32(4), remaining.Quantity)
}

func TestRemoveItem_InactiveCartRejected(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	cart.Status = domain.StatusInactive
	productID := uuid.New()
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 1}},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	err := sut.RemoveItem(context.Background(), userID, productID)
	require.ErrorIs(t, err, ErrCartNotActive)
	assert.Equal(t, 1, store.itemCount(cart.ID))
}

func TestClearCart_RemovesAllItemsKeepsCart(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{
			{ID: uuid.New(), CartID: cart.ID, ProductID: uuid.New(), Quantity: 1},
			{ID: uuid.New(), CartID: cart.ID, ProductID: uuid.New(), Quantity: 2},
		},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	err := sut.ClearCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, store.itemCount(cart.ID))

	got, err := sut.GetCartItems(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, store.carts, 1)
}

func TestClearCart_AllowedWhileInactiveByDefault(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	cart.Status = domain.StatusInactive
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: uuid.New(), Quantity: 1}},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	require.NoError(t, sut.ClearCart(context.Background(), userID))
	assert.Equal(t, 0, store.itemCount(cart.ID))
}

func TestClearCart_GatedWhenConfigured(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	cart.Status = domain.StatusInactive
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: uuid.New(), Quantity: 1}},
	}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{ClearRequiresActive: true})

	err := sut.ClearCart(context.Background(), userID)
	require.ErrorIs(t, err, ErrCartNotActive)
	assert.Equal(t, 1, store.itemCount(cart.ID))
}

func TestClearCart_NoCart(t *testing.T) {
	sut := newTestService(&mockStore{}, &mockCatalog{}, newMockCache(), Config{})
	err := sut.ClearCart(context.Background(), uuid.New())
	require.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestStatusTransitions(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	store := &mockStore{carts: []*domain.Cart{cart}}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})
	ctx := context.Background()

	active, err := sut.IsActive(ctx, userID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, sut.DeactivateCart(ctx, userID))
	active, err = sut.IsActive(ctx, userID)
	require.NoError(t, err)
	assert.False(t, active)

	// Re-activating twice is a no-op success.
	require.NoError(t, sut.ActivateCart(ctx, userID))
	require.NoError(t, sut.ActivateCart(ctx, userID))
	active, err = sut.IsActive(ctx, userID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActivateCart_NoCart(t *testing.T) {
	sut := newTestService(&mockStore{}, &mockCatalog{}, newMockCache(), Config{})
	err := sut.ActivateCart(context.Background(), uuid.New())
	require.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestIsActive_CreatesCartForNewUser(t *testing.T) {
	store := &mockStore{}
	sut := newTestService(store, &mockCatalog{}, newMockCache(), Config{})

	active, err := sut.IsActive(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, active)
	assert.Len(t, store.carts, 1)
}

func TestGetCart_CacheHitSkipsStore(t *testing.T) {
	userID := uuid.New()
	cached := activeCart(userID)
	cached.Items = []domain.CartItem{{ID: uuid.New(), CartID: cached.ID, ProductID: uuid.New(), Quantity: 3}}
	c := newMockCache()
	require.NoError(t, c.Set(context.Background(), userID, cached))

	store := &mockStore{err: fmt.Errorf("store must not be called")}
	sut := newTestService(store, &mockCatalog{}, c, Config{})

	cart, err := sut.GetCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, cached.ID, cart.ID)
	assert.Len(t, cart.Items, 1)
}

func TestGetCart_MissLoadsAndSetsCache(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: uuid.New(), Quantity: 2}},
	}
	c := newMockCache()
	sut := newTestService(store, &mockCatalog{}, c, Config{})

	got, err := sut.GetCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, got.ID)
	assert.Len(t, got.Items, 1)

	require.Eventually(t, func() bool {
		return c.getCart(userID) != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")
}

func TestMutations_InvalidateCache(t *testing.T) {
	userID := uuid.New()
	cart := activeCart(userID)
	productID := uuid.New()
	store := &mockStore{
		carts: []*domain.Cart{cart},
		items: []domain.CartItem{{ID: uuid.New(), CartID: cart.ID, ProductID: productID, Quantity: 5}},
	}
	c := newMockCache()
	require.NoError(t, c.Set(context.Background(), userID, cart))
	sut := newTestService(store, &mockCatalog{}, c, Config{})

	_, err := sut.AddItem(context.Background(), userID, productID, 1)
	require.NoError(t, err)
	assert.Nil(t, c.getCart(userID), "cache was not invalidated")
}
