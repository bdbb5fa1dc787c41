package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopsite/fulfillment/internal/repositories"
)

var (
	// ErrValidation signals malformed input such as a non-positive quantity.
	ErrValidation = errors.New("fulfillment: invalid input")
	// ErrEmptyCandidateSet signals an order request that resolved to no lines.
	ErrEmptyCandidateSet = errors.New("fulfillment: no lines to order")
	// ErrInsufficientStock signals a line asking for more units than the product holds.
	ErrInsufficientStock = errors.New("fulfillment: insufficient stock")
	// ErrProductUnavailable signals a product withdrawn from sale.
	ErrProductUnavailable = errors.New("fulfillment: product unavailable")
	// ErrProductNotFound signals a line referencing an unknown product.
	ErrProductNotFound = errors.New("fulfillment: product not found")
	// ErrIllegalTransition signals an event the order's current status does not accept.
	ErrIllegalTransition = errors.New("fulfillment: illegal status transition")
	// ErrForbidden signals a caller who may see the order but not apply the event.
	ErrForbidden = errors.New("fulfillment: forbidden")
	// ErrNotFound signals a missing order, or one the caller may not see.
	ErrNotFound = errors.New("fulfillment: not found")
	// ErrTransientStore signals a store failure worth retrying; no partial effects remain.
	ErrTransientStore = errors.New("fulfillment: store temporarily unavailable")
)

// ErrorKind classifies service errors for transports and metrics.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindValidation         ErrorKind = "validation"
	KindEmptyCandidateSet  ErrorKind = "empty_candidate_set"
	KindInsufficientStock  ErrorKind = "insufficient_stock"
	KindProductUnavailable ErrorKind = "product_unavailable"
	KindProductNotFound    ErrorKind = "product_not_found"
	KindIllegalTransition  ErrorKind = "illegal_transition"
	KindForbidden          ErrorKind = "forbidden"
	KindNotFound           ErrorKind = "not_found"
	KindTransient          ErrorKind = "transient"
	KindInternal           ErrorKind = "internal"
)

var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrValidation, KindValidation},
	{ErrEmptyCandidateSet, KindEmptyCandidateSet},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrProductUnavailable, KindProductUnavailable},
	{ErrProductNotFound, KindProductNotFound},
	{ErrIllegalTransition, KindIllegalTransition},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrTransientStore, KindTransient},
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, candidate := range kindSentinels {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return KindInternal
}

// mapStoreError translates repository failures into the service taxonomy. Errors already
// carrying a service sentinel pass through unchanged.
func mapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: product %s (requested %d, available %d)", ErrInsufficientStock, stockErr.ProductID, stockErr.Requested, stockErr.Available)
		case repositories.StockErrorUnavailable:
			return fmt.Errorf("%w: product %s", ErrProductUnavailable, stockErr.ProductID)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: product %s", ErrProductNotFound, stockErr.ProductID)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: quantity must be positive for product %s", ErrValidation, stockErr.ProductID)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
