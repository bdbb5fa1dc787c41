package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopsite/fulfillment/internal/repositories"
)

// CartSnapshotReaderDeps bundles the collaborators required by the cart reader.
type CartSnapshotReaderDeps struct {
	Carts       repositories.CartRepository
	// MaxLines caps the number of distinct products per order; zero disables the cap.
	MaxLines    int
	// MaxQuantity caps the quantity of a single merged line; zero disables the cap.
	MaxQuantity int
}

type cartSnapshotReader struct {
	carts       repositories.CartRepository
	maxLines    int
	maxQuantity int
}

var _ CartSnapshotReader = (*cartSnapshotReader)(nil)

// NewCartSnapshotReader wires the cart repository into a CartSnapshotReader.
func NewCartSnapshotReader(deps CartSnapshotReaderDeps) (CartSnapshotReader, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart reader: cart repository is required")
	}
	return &cartSnapshotReader{
		carts:       deps.Carts,
		maxLines:    deps.MaxLines,
		maxQuantity: deps.MaxQuantity,
	}, nil
}

func (r *cartSnapshotReader) Snapshot(ctx context.Context, query CartSnapshotQuery) ([]CandidateLine, error) {
	customerID := strings.TrimSpace(query.CustomerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrValidation)
	}

	lines, err := r.carts.ListLines(ctx, customerID)
	if err != nil {
		return nil, mapStoreError("cart.snapshot", err)
	}

	var selected map[string]struct{}
	if len(query.LineIDs) > 0 {
		selected = make(map[string]struct{}, len(query.LineIDs))
		for _, id := range query.LineIDs {
			if id = strings.TrimSpace(id); id != "" {
				selected[id] = struct{}{}
			}
		}
	}

	candidates := make([]CandidateLine, 0, len(lines))
	for _, line := range lines {
		if line.CustomerID != customerID {
			continue
		}
		if selected != nil {
			if _, ok := selected[line.ID]; !ok {
				continue
			}
		}
		candidates = append(candidates, CandidateLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			CartLineIDs: []string{line.ID},
		})
	}
	return r.normalise(candidates)
}

func (r *cartSnapshotReader) FromLines(lines []LineRequest) ([]CandidateLine, error) {
	candidates := make([]CandidateLine, 0, len(lines))
	for _, line := range lines {
		candidates = append(candidates, CandidateLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return r.normalise(candidates)
}

// normalise validates lines and merges duplicates of one product, keeping the first
// occurrence's position.
func (r *cartSnapshotReader) normalise(lines []CandidateLine) ([]CandidateLine, error) {
	merged := make([]CandidateLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d: product id is required", ErrValidation, i)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d: quantity must be at least 1", ErrValidation, i)
		}
		if pos, ok := index[productID]; ok {
			merged[pos].Quantity += line.Quantity
			merged[pos].CartLineIDs = append(merged[pos].CartLineIDs, line.CartLineIDs...)
			continue
		}
		index[productID] = len(merged)
		line.ProductID = productID
		line.CartLineIDs = append([]string(nil), line.CartLineIDs...)
		merged = append(merged, line)
	}

	if len(merged) == 0 {
		return nil, ErrEmptyCandidateSet
	}
	if r.maxLines > 0 && len(merged) > r.maxLines {
		return nil, fmt.Errorf("%w: at most %d distinct products per order", ErrValidation, r.maxLines)
	}
	if r.maxQuantity > 0 {
		for _, line := range merged {
			if line.Quantity > r.maxQuantity {
				return nil, fmt.Errorf("%w: product %s: quantity exceeds %d", ErrValidation, line.ProductID, r.maxQuantity)
			}
		}
	}
	return merged, nil
}
