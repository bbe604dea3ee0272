package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Mazaadak/mazadak-cart-service/internal/domain"
	"github.com/Mazaadak/mazadak-cart-service/internal/repository"
	"github.com/Mazaadak/mazadak-cart-service/internal/service"
)

// CartAPI is the slice of the cart service the transport needs.
// Consumers define this interface, not the service implementation.
type CartAPI interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	GetCartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	GetDetailedCartItems(ctx context.Context, userID uuid.UUID) ([]domain.DetailedCartItem, error)
	IsActive(ctx context.Context, userID uuid.UUID) (bool, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, error)
	UpdateItemQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, error)
	ReduceItemQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int32) (*domain.CartItem, bool, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	ClearCart(ctx context.Context, userID uuid.UUID) error
	ActivateCart(ctx context.Context, userID uuid.UUID) error
	DeactivateCart(ctx context.Context, userID uuid.UUID) error
}

// CartHandler exposes the cart aggregate over HTTP. Routing, validation and
// DTO shaping only; all cart rules live in the service.
type CartHandler struct {
	service CartAPI
	logger  *slog.Logger
}

func NewCartHandler(svc CartAPI, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

func (h *CartHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(UserIDMiddleware)

	r.Get("/", h.GetCart)
	r.Get("/active", h.GetActive)
	r.Post("/clear", h.ClearCart)
	r.Post("/activate", h.ActivateCart)
	r.Post("/deactivate", h.DeactivateCart)

	r.Get("/items", h.GetCartItems)
	r.Get("/items/detailed", h.GetDetailedCartItems)
	r.Post("/items", h.AddItem)
	r.Put("/items/{productID}", h.UpdateItemQuantity)
	r.Patch("/items/reduce/{productID}", h.ReduceItemQuantity)
	r.Delete("/items/{productID}", h.RemoveItem)

	return r
}

type AddItemRequestDTO struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int32 `json:"quantity"`
}

type ReduceItemResponseDTO struct {
	Removed bool             `json:"removed"`
	Item    *domain.CartItem `json:"item,omitempty"`
}

type ActiveResponseDTO struct {
	Active bool `json:"active"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	cart, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) GetCartItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	items, err := h.service.GetCartItems(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *CartHandler) GetDetailedCartItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	items, err := h.service.GetDetailedCartItems(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *CartHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	active, err := h.service.IsActive(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ActiveResponseDTO{Active: active})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	item, err := h.service.AddItem(r.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a UUID")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	item, err := h.service.UpdateItemQuantity(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *CartHandler) ReduceItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a UUID")
		return
	}

	quantity := int32(1)
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 32)
		if parseErr != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
			return
		}
		quantity = int32(parsed)
	}

	item, removed, err := h.service.ReduceItemQuantity(r.Context(), userID, productID, quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ReduceItemResponseDTO{Removed: removed, Item: item})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a UUID")
		return
	}

	if err := h.service.RemoveItem(r.Context(), userID, productID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) ActivateCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	if err := h.service.ActivateCart(r.Context(), userID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) DeactivateCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user-id header is required")
		return
	}

	if err := h.service.DeactivateCart(r.Context(), userID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "cart_not_found", "cart not found for user")
	case errors.Is(err, repository.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", "item not found in cart")
	case errors.Is(err, service.ErrCartNotActive):
		respondError(w, http.StatusConflict, "cart_not_active", "cart is not active")
	case errors.Is(err, service.ErrCatalogUnavailable):
		respondError(w, http.StatusBadGateway, "catalog_unavailable", "product catalog unavailable")
	case errors.Is(err, service.ErrProductMissing):
		respondError(w, http.StatusInternalServerError, "catalog_inconsistency", "cart references unknown product")
	default:
		h.logger.Error("unhandled service error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
