package service

import "errors"

var (
	// ErrCartNotActive rejects item mutation while the cart status is
	// INACTIVE, e.g. while a checkout is processing.
	ErrCartNotActive = errors.New("cart is not active, checkout is processing")

	// ErrProductMissing means a cart line references a product the catalog
	// could not resolve. A cart/catalog inconsistency is not user-correctable.
	ErrProductMissing = errors.New("cart item references unknown product")

	// ErrCatalogUnavailable means the product catalog call failed or timed
	// out. Cart state is unaffected.
	ErrCatalogUnavailable = errors.New("product catalog unavailable")
)
