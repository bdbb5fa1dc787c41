package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/pagination"
	"github.com/shopsite/fulfillment/internal/repositories"
)

const defaultPageSize = 20

type productRepository struct{ s *Store }

func (r productRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.s.with(ctx, func(st *state) error {
		found, ok := st.products[productID]
		if !ok {
			return repositories.NewNotFound("products.find", "product", productID)
		}
		product = found
		return nil
	})
	return product, err
}

func (r productRepository) Reserve(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	const op = "products.reserve"
	productID = strings.TrimSpace(productID)
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID)
	}
	var product domain.Product
	err := r.s.with(ctx, func(st *state) error {
		found, ok := st.products[productID]
		if !ok {
			return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID)
		}
		if !found.IsAvailable {
			return repositories.NewStockError(op, repositories.StockErrorUnavailable, productID)
		}
		if found.Stock < quantity {
			stockErr := repositories.NewStockError(op, repositories.StockErrorInsufficient, productID)
			stockErr.Requested = quantity
			stockErr.Available = found.Stock
			return stockErr
		}
		found.Stock -= quantity
		found.UpdatedAt = now.UTC()
		st.products[productID] = found
		product = found
		return nil
	})
	return product, err
}

func (r productRepository) Release(ctx context.Context, productID string, quantity int, now time.Time) (domain.Product, error) {
	const op = "products.release"
	if quantity <= 0 {
		return domain.Product{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID)
	}
	var product domain.Product
	err := r.s.with(ctx, func(st *state) error {
		found, ok := st.products[productID]
		if !ok {
			return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID)
		}
		found.Stock += quantity
		found.UpdatedAt = now.UTC()
		st.products[productID] = found
		product = found
		return nil
	})
	return product, err
}

func (r productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("products.upsert: id is required")
	}
	return r.s.with(ctx, func(st *state) error {
		st.products[product.ID] = product
		return nil
	})
}

func (r productRepository) Delete(ctx context.Context, productID string) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.products[productID]; !ok {
			return repositories.NewNotFound("products.delete", "product", productID)
		}
		delete(st.products, productID)
		for id, line := range st.cart {
			if line.ProductID == productID {
				delete(st.cart, id)
			}
		}
		return nil
	})
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	return r.s.with(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return repositories.NewConflict(op, fmt.Errorf("order %s already exists", order.ID))
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) FindWithItems(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.s.with(ctx, func(st *state) error {
		found, ok := st.orders[orderID]
		if !ok {
			return repositories.NewNotFound("orders.find", "order", orderID)
		}
		order = cloneOrder(found)
		return nil
	})
	return order, err
}

// LockWithItems relies on the store-wide transaction lock.
func (r orderRepository) LockWithItems(ctx context.Context, orderID string) (domain.Order, error) {
	if !r.s.inTx(ctx) {
		return domain.Order{}, repositories.NewConflict("orders.lock", fmt.Errorf("row lock requires a transaction"))
	}
	return r.FindWithItems(ctx, orderID)
}

func (r orderRepository) UpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, now time.Time) error {
	const op = "orders.update_status"
	return r.s.with(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok || order.Status != expected {
			return repositories.NewConflict(op, fmt.Errorf("order %s is no longer %s", orderID, expected))
		}
		order.Status = next
		order.UpdatedAt = now.UTC()
		st.orders[orderID] = order
		return nil
	})
}

func (r orderRepository) MarkItemsReleased(ctx context.Context, orderID string, itemIDs []string, now time.Time) error {
	const op = "orders.mark_items_released"
	if len(itemIDs) == 0 {
		return nil
	}
	return r.s.with(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return repositories.NewNotFound(op, "order", orderID)
		}
		wanted := make(map[string]struct{}, len(itemIDs))
		for _, id := range itemIDs {
			wanted[id] = struct{}{}
		}
		order = cloneOrder(order)
		released := 0
		stamp := now.UTC()
		for i := range order.Items {
			if _, ok := wanted[order.Items[i].ID]; !ok || !order.Items[i].StockReserved {
				continue
			}
			order.Items[i].StockReserved = false
			at := stamp
			order.Items[i].StockReleasedAt = &at
			released++
		}
		if released != len(itemIDs) {
			return repositories.NewConflict(op, fmt.Errorf("released %d of %d items on order %s", released, len(itemIDs), orderID))
		}
		st.orders[orderID] = order
		return nil
	})
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	keyset, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}

	var page domain.CursorPage[domain.Order]
	err = r.s.with(ctx, func(st *state) error {
		for _, order := range sortedOrders(st.orders) {
			if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
				continue
			}
			if filter.MerchantID != "" && !order.HasMerchant(filter.MerchantID) {
				continue
			}
			if len(statuses) > 0 {
				if _, ok := statuses[order.Status]; !ok {
					continue
				}
			}
			if !keyset.Before(order.OrderedAt, order.ID) {
				continue
			}
			if len(page.Items) == pageSize {
				last := page.Items[len(page.Items)-1]
				token, err := pagination.EncodeToken(pagination.Keyset{After: last.OrderedAt, ID: last.ID})
				if err != nil {
					return err
				}
				page.NextPageToken = token
				break
			}
			page.Items = append(page.Items, cloneOrder(order))
		}
		return nil
	})
	return page, err
}

type cartRepository struct{ s *Store }

func (r cartRepository) ListLines(ctx context.Context, customerID string) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	err := r.s.with(ctx, func(st *state) error {
		for _, line := range st.cart {
			if line.CustomerID == customerID {
				lines = append(lines, line)
			}
		}
		return nil
	})
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ID < lines[j].ID
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
	return lines, err
}

func (r cartRepository) RemoveLines(ctx context.Context, customerID string, lineIDs []string) error {
	return r.s.with(ctx, func(st *state) error {
		for _, id := range lineIDs {
			if line, ok := st.cart[id]; ok && line.CustomerID == customerID {
				delete(st.cart, id)
			}
		}
		return nil
	})
}

func (r cartRepository) AddLine(ctx context.Context, line domain.CartLine) error {
	if strings.TrimSpace(line.ID) == "" {
		return fmt.Errorf("carts.add: id is required")
	}
	return r.s.with(ctx, func(st *state) error {
		st.cart[line.ID] = line
		return nil
	})
}

type messageRepository struct{ s *Store }

func (r messageRepository) Insert(ctx context.Context, message domain.Message) error {
	return r.s.with(ctx, func(st *state) error {
		st.messages = append(st.messages, message)
		return nil
	})
}

func (r messageRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Message
	err := r.s.with(ctx, func(st *state) error {
		for i := len(st.messages) - 1; i >= 0 && len(out) < limit; i-- {
			if st.messages[i].UserID == userID {
				out = append(out, st.messages[i])
			}
		}
		return nil
	})
	return out, err
}

type salesLogRepository struct{ s *Store }

func (r salesLogRepository) Append(ctx context.Context, entries []domain.SalesLogEntry) error {
	return r.s.with(ctx, func(st *state) error {
		st.salesLog = append(st.salesLog, entries...)
		return nil
	})
}

func (r salesLogRepository) List(ctx context.Context, filter repositories.SalesLogFilter) ([]domain.SalesLogEntry, error) {
	var out []domain.SalesLogEntry
	err := r.s.with(ctx, func(st *state) error {
		var merchantProducts map[string]bool
		if filter.MerchantID != "" {
			merchantProducts = st.merchantProducts(filter.MerchantID)
		}
		for _, entry := range st.salesLog {
			if entry.UserID != filter.UserID {
				continue
			}
			if filter.Action != "" && entry.Action != filter.Action {
				continue
			}
			if merchantProducts != nil && !merchantProducts[entry.ProductID] {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.After(out[j].LoggedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// merchantProducts collects the products a merchant lists or has sold.
func (st *state) merchantProducts(merchantID string) map[string]bool {
	ids := make(map[string]bool)
	for id, product := range st.products {
		if product.MerchantID == merchantID {
			ids[id] = true
		}
	}
	for _, order := range st.orders {
		for _, item := range order.Items {
			if item.MerchantID == merchantID {
				ids[item.ProductID] = true
			}
		}
	}
	return ids
}

type reportRepository struct{ s *Store }

// scopedItems returns the items of order that count for scope.
func scopedItems(order domain.Order, scope repositories.ReportScope) []domain.OrderItem {
	if scope.MerchantID == "" {
		return order.Items
	}
	var out []domain.OrderItem
	for _, item := range order.Items {
		if item.MerchantID == scope.MerchantID {
			out = append(out, item)
		}
	}
	return out
}

func (r reportRepository) SalesSummary(ctx context.Context, scope repositories.ReportScope) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{TotalSales: decimal.Zero}
	err := r.s.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			items := scopedItems(order, scope)
			if len(items) == 0 {
				continue
			}
			summary.TotalOrders++
			if order.Status == domain.OrderStatusCompleted {
				summary.CompletedOrders++
			}
			if order.Status.CountsAsSale() {
				summary.TotalSales = summary.TotalSales.Add(domain.ComputeTotal(items))
			}
		}
		return nil
	})
	return summary, err
}

func (r reportRepository) StatusCounts(ctx context.Context, scope repositories.ReportScope) (map[domain.OrderStatus]int, error) {
	counts := make(map[domain.OrderStatus]int, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		counts[status] = 0
	}
	err := r.s.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if len(scopedItems(order, scope)) > 0 {
				counts[order.Status]++
			}
		}
		return nil
	})
	return counts, err
}

func (r reportRepository) TopProducts(ctx context.Context, scope repositories.ReportScope, limit int) ([]domain.ProductSales, error) {
	byProduct := make(map[string]*domain.ProductSales)
	err := r.s.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if !order.Status.CountsAsSale() {
				continue
			}
			for _, item := range scopedItems(order, scope) {
				entry, ok := byProduct[item.ProductID]
				if !ok {
					entry = &domain.ProductSales{ProductID: item.ProductID, ProductName: item.ProductName, Revenue: decimal.Zero}
					byProduct[item.ProductID] = entry
				}
				entry.Quantity += item.Quantity
				entry.Revenue = entry.Revenue.Add(item.LineTotal())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProductSales, 0, len(byProduct))
	for _, entry := range byProduct {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity == out[j].Quantity {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Quantity > out[j].Quantity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reportRepository) Customers(ctx context.Context, scope repositories.ReportScope, customerID string) ([]domain.CustomerSummary, error) {
	byCustomer := make(map[string]*domain.CustomerSummary)
	err := r.s.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if customerID != "" && order.CustomerID != customerID {
				continue
			}
			items := scopedItems(order, scope)
			if len(items) == 0 {
				continue
			}
			entry, ok := byCustomer[order.CustomerID]
			if !ok {
				entry = &domain.CustomerSummary{CustomerID: order.CustomerID, TotalSpent: decimal.Zero}
				byCustomer[order.CustomerID] = entry
			}
			entry.OrderCount++
			if order.Status.CountsAsSale() {
				entry.TotalSpent = entry.TotalSpent.Add(domain.ComputeTotal(items))
			}
			if order.OrderedAt.After(entry.LastOrderAt) {
				entry.LastOrderAt = order.OrderedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.CustomerSummary, 0, len(byCustomer))
	for _, entry := range byCustomer {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastOrderAt.Equal(out[j].LastOrderAt) {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].LastOrderAt.After(out[j].LastOrderAt)
	})
	return out, nil
}
