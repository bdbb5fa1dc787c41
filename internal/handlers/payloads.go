package handlers

import (
	"time"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/services"
)

type orderItemPayload struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"productId"`
	ProductName     string  `json:"productName"`
	MerchantID      string  `json:"merchantId"`
	Quantity        int     `json:"quantity"`
	PriceAtOrder    string  `json:"priceAtOrder"`
	LineTotal       string  `json:"lineTotal"`
	StockReserved   bool    `json:"stockReserved"`
	StockReleasedAt *string `json:"stockReleasedAt,omitempty"`
	OwnedByCaller   *bool   `json:"ownedByCaller,omitempty"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	CustomerID  string             `json:"customerId"`
	Status      string             `json:"status"`
	TotalAmount string             `json:"totalAmount"`
	OrderedAt   string             `json:"orderedAt"`
	UpdatedAt   string             `json:"updatedAt"`
	Items       []orderItemPayload `json:"items"`
}

type orderResponse struct {
	Order    orderPayload `json:"order"`
	Warnings []string     `json:"warnings,omitempty"`
}

type transitionResponse struct {
	Order          orderPayload `json:"order"`
	PreviousStatus string       `json:"previousStatus"`
	ReleasedUnits  int          `json:"releasedUnits"`
	Warnings       []string     `json:"warnings,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, buildOrderItemPayload(item))
	}
	return orderPayload{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.StringFixed(2),
		OrderedAt:   formatTime(order.OrderedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		Items:       items,
	}
}

func buildOrderViewPayload(view services.OrderView) orderPayload {
	items := make([]orderItemPayload, 0, len(view.Items))
	for _, item := range view.Items {
		payload := buildOrderItemPayload(item.OrderItem)
		owned := item.OwnedByCaller
		payload.OwnedByCaller = &owned
		items = append(items, payload)
	}
	return orderPayload{
		ID:          view.ID,
		CustomerID:  view.CustomerID,
		Status:      string(view.Status),
		TotalAmount: view.TotalAmount.StringFixed(2),
		OrderedAt:   formatTime(view.OrderedAt),
		UpdatedAt:   formatTime(view.UpdatedAt),
		Items:       items,
	}
}

func buildOrderItemPayload(item domain.OrderItem) orderItemPayload {
	payload := orderItemPayload{
		ID:            item.ID,
		ProductID:     item.ProductID,
		ProductName:   item.ProductName,
		MerchantID:    item.MerchantID,
		Quantity:      item.Quantity,
		PriceAtOrder:  item.PriceAtOrder.StringFixed(2),
		LineTotal:     item.LineTotal().StringFixed(2),
		StockReserved: item.StockReserved,
	}
	if item.StockReleasedAt != nil {
		released := formatTime(*item.StockReleasedAt)
		payload.StockReleasedAt = &released
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
