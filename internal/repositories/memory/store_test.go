package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/repositories"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	require.NoError(t, s.Products().Upsert(context.Background(), domain.Product{
		ID:          id,
		Name:        "Product " + id,
		Price:       decimal.RequireFromString("12.50"),
		Stock:       stock,
		IsAvailable: true,
		MerchantID:  "merch-1",
	}))
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "prd_a", 5)
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Products().Reserve(ctx, "prd_a", 3, testNow)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := s.Products().FindByID(context.Background(), "prd_a")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)
}

func TestRunInTxCommitFailureRollsBack(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "prd_a", 5)
	s.FailNextCommit(errors.New("disk full"))

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Products().Reserve(ctx, "prd_a", 2, testNow)
		return err
	})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsUnavailable())

	product, err := s.Products().FindByID(context.Background(), "prd_a")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Products().Reserve(ctx, "prd_a", 2, testNow)
		return err
	}))
}

func TestRunInTxJoinsOuterTransaction(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "prd_a", 5)

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			_, err := s.Products().Reserve(ctx, "prd_a", 1, testNow)
			return err
		})
	})
	require.NoError(t, err)

	product, _ := s.Products().FindByID(context.Background(), "prd_a")
	assert.Equal(t, 4, product.Stock)
}

func TestRunInTxIgnoresCallerCancellation(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunInTx(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.NoError(t, err)
}

func TestReserveErrors(t *testing.T) {
	s := NewStore()
	seedProduct(t, s, "prd_a", 1)
	require.NoError(t, s.Products().Upsert(context.Background(), domain.Product{ID: "prd_off", Stock: 10}))

	cases := []struct {
		name     string
		product  string
		quantity int
		code     repositories.StockErrorCode
	}{
		{"missing", "prd_zzz", 1, repositories.StockErrorProductNotFound},
		{"unavailable", "prd_off", 1, repositories.StockErrorUnavailable},
		{"insufficient", "prd_a", 2, repositories.StockErrorInsufficient},
		{"invalid quantity", "prd_a", 0, repositories.StockErrorInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Products().Reserve(context.Background(), tc.product, tc.quantity, testNow)
			var stockErr *repositories.StockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, tc.code, stockErr.Code)
		})
	}

	product, _ := s.Products().FindByID(context.Background(), "prd_a")
	assert.Equal(t, 1, product.Stock)
}

func TestMarkItemsReleasedOnlyOnce(t *testing.T) {
	s := NewStore()
	order := domain.Order{
		ID:         "ord_1",
		CustomerID: "cust-1",
		Status:     domain.OrderStatusPendingPayment,
		OrderedAt:  testNow,
		Items: []domain.OrderItem{
			{ID: "itm_1", OrderID: "ord_1", ProductID: "prd_a", Quantity: 1, StockReserved: true},
		},
	}
	ctx := context.Background()
	require.NoError(t, s.Orders().Insert(ctx, order))

	require.NoError(t, s.Orders().MarkItemsReleased(ctx, "ord_1", []string{"itm_1"}, testNow))
	loaded, err := s.Orders().FindWithItems(ctx, "ord_1")
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.False(t, loaded.Items[0].StockReserved)
	require.NotNil(t, loaded.Items[0].StockReleasedAt)

	err = s.Orders().MarkItemsReleased(ctx, "ord_1", []string{"itm_1"}, testNow)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestUpdateStatusChecksExpected(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Orders().Insert(ctx, domain.Order{ID: "ord_1", Status: domain.OrderStatusPendingPayment}))

	require.NoError(t, s.Orders().UpdateStatus(ctx, "ord_1", domain.OrderStatusPendingPayment, domain.OrderStatusProcessing, testNow))
	err := s.Orders().UpdateStatus(ctx, "ord_1", domain.OrderStatusPendingPayment, domain.OrderStatusCancelled, testNow)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestListPaginatesNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Orders().Insert(ctx, domain.Order{
			ID:         fmt.Sprintf("ord_%d", i),
			CustomerID: "cust-1",
			Status:     domain.OrderStatusPendingPayment,
			OrderedAt:  testNow.Add(time.Duration(i) * time.Minute),
			Items:      []domain.OrderItem{{ID: fmt.Sprintf("itm_%d", i), MerchantID: "merch-1", Quantity: 1}},
		}))
	}
	require.NoError(t, s.Orders().Insert(ctx, domain.Order{ID: "ord_other", CustomerID: "cust-2", OrderedAt: testNow}))

	filter := repositories.OrderListFilter{CustomerID: "cust-1", Pagination: domain.Pagination{PageSize: 2}}
	var seen []string
	for {
		page, err := s.Orders().List(ctx, filter)
		require.NoError(t, err)
		for _, order := range page.Items {
			seen = append(seen, order.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
	assert.Equal(t, []string{"ord_4", "ord_3", "ord_2", "ord_1", "ord_0"}, seen)
}

func TestReportsScopeToMerchantItems(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	price := decimal.RequireFromString("10.00")
	orders := []domain.Order{
		{ID: "ord_1", Status: domain.OrderStatusCompleted, Items: []domain.OrderItem{
			{ProductID: "prd_a", MerchantID: "merch-1", Quantity: 2, PriceAtOrder: price},
			{ProductID: "prd_b", MerchantID: "merch-2", Quantity: 5, PriceAtOrder: price},
		}},
		{ID: "ord_2", Status: domain.OrderStatusPendingPayment, Items: []domain.OrderItem{
			{ProductID: "prd_a", MerchantID: "merch-1", Quantity: 7, PriceAtOrder: price},
		}},
		{ID: "ord_3", Status: domain.OrderStatusShipped, Items: []domain.OrderItem{
			{ProductID: "prd_c", MerchantID: "merch-1", Quantity: 3, PriceAtOrder: price},
		}},
	}
	for _, order := range orders {
		require.NoError(t, s.Orders().Insert(ctx, order))
	}

	scope := repositories.ReportScope{MerchantID: "merch-1"}
	summary, err := s.Reports().SalesSummary(ctx, scope)
	require.NoError(t, err)
	assert.True(t, summary.TotalSales.Equal(decimal.RequireFromString("50")), "got %s", summary.TotalSales)
	assert.Equal(t, 3, summary.TotalOrders)
	assert.Equal(t, 1, summary.CompletedOrders)

	counts, err := s.Reports().StatusCounts(ctx, repositories.ReportScope{MerchantID: "merch-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.OrderStatusCompleted])
	assert.Equal(t, 0, counts[domain.OrderStatusShipped])

	top, err := s.Reports().TopProducts(ctx, repositories.ReportScope{}, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "prd_b", top[0].ProductID)
	assert.Equal(t, "prd_c", top[1].ProductID)
}

func TestCartLinesAreScopedToCustomer(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Carts().AddLine(ctx, domain.CartLine{ID: "cl_1", CustomerID: "cust-1", ProductID: "prd_a", Quantity: 1, CreatedAt: testNow}))
	require.NoError(t, s.Carts().AddLine(ctx, domain.CartLine{ID: "cl_2", CustomerID: "cust-2", ProductID: "prd_a", Quantity: 1, CreatedAt: testNow}))

	require.NoError(t, s.Carts().RemoveLines(ctx, "cust-1", []string{"cl_1", "cl_2"}))

	lines, err := s.Carts().ListLines(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, lines)
	lines, err = s.Carts().ListLines(ctx, "cust-2")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestDeleteProductRemovesCartLinesAndKeepsOrders(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedProduct(t, s, "prd_a", 5)
	seedProduct(t, s, "prd_b", 5)
	require.NoError(t, s.Carts().AddLine(ctx, domain.CartLine{ID: "crt_1", CustomerID: "cus-1", ProductID: "prd_a", Quantity: 1}))
	require.NoError(t, s.Carts().AddLine(ctx, domain.CartLine{ID: "crt_2", CustomerID: "cus-1", ProductID: "prd_b", Quantity: 1}))
	require.NoError(t, s.Orders().Insert(ctx, domain.Order{
		ID:         "ord_1",
		CustomerID: "cus-1",
		Status:     domain.OrderStatusPendingPayment,
		OrderedAt:  testNow,
		Items: []domain.OrderItem{{
			ID: "itm_1", ProductID: "prd_a", ProductName: "Product prd_a", MerchantID: "merch-1",
			Quantity: 1, PriceAtOrder: decimal.RequireFromString("12.50"), StockReserved: true,
		}},
	}))

	require.NoError(t, s.Products().Delete(ctx, "prd_a"))

	_, err := s.Products().FindByID(ctx, "prd_a")
	assert.True(t, repositories.IsNotFound(err))
	lines, err := s.Carts().ListLines(ctx, "cus-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "prd_b", lines[0].ProductID)

	order, err := s.Orders().FindWithItems(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "Product prd_a", order.Items[0].ProductName)

	_, err = s.Products().Release(ctx, "prd_a", 1, testNow)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorProductNotFound, stockErr.Code)

	err = s.Products().Delete(ctx, "prd_a")
	assert.True(t, repositories.IsNotFound(err))
}

func TestSalesLogListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedProduct(t, s, "prd_a", 5)
	require.NoError(t, s.Products().Upsert(ctx, domain.Product{ID: "prd_x", MerchantID: "merch-2", Price: decimal.Zero}))
	require.NoError(t, s.SalesLog().Append(ctx, []domain.SalesLogEntry{
		{UserID: "cus-1", Action: domain.SalesLogPurchase, ProductID: "prd_a", Quantity: 1, LoggedAt: testNow},
		{UserID: "cus-1", Action: domain.SalesLogPurchase, ProductID: "prd_x", Quantity: 1, LoggedAt: testNow.Add(time.Minute)},
		{UserID: "cus-1", Action: domain.SalesLogPurchase, ProductID: "prd_a", Quantity: 2, LoggedAt: testNow.Add(2 * time.Minute)},
		{UserID: "cus-2", Action: domain.SalesLogPurchase, ProductID: "prd_a", Quantity: 1, LoggedAt: testNow},
	}))

	all, err := s.SalesLog().List(ctx, repositories.SalesLogFilter{UserID: "cus-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].Quantity, "newest first")

	scoped, err := s.SalesLog().List(ctx, repositories.SalesLogFilter{UserID: "cus-1", MerchantID: "merch-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "prd_a", scoped[0].ProductID)

	none, err := s.SalesLog().List(ctx, repositories.SalesLogFilter{UserID: "cus-1", Action: "VIEW"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
