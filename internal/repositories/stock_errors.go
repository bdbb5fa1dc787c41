package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates requested quantity exceeds the product stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorUnavailable indicates the product is flagged unavailable for new orders.
	StockErrorUnavailable StockErrorCode = "stock_product_unavailable"
	// StockErrorProductNotFound indicates the product row does not exist.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorInvalidQuantity indicates a non-positive quantity was supplied.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s (product %s", e.Code, e.ProductID)
	if e.Code == StockErrorInsufficient {
		msg += fmt.Sprintf(", requested %d, available %d", e.Requested, e.Available)
	}
	msg += ")"
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, productID string) *StockError {
	return &StockError{Op: op, Code: code, ProductID: productID}
}
