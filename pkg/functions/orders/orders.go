// Package orders implements the restaurant order pipeline: order intake over
// HTTP, card-payment capture and the scheduled batch that dispatches captures.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// EventPlaced is the event type published for a new order.
const EventPlaced = "placed"

// OrderRequest is the body of a place-order request.
type OrderRequest struct {
	RestaurantID     string        `json:"restaurantId" validate:"required"`
	CustomerID       string        `json:"customerId" validate:"required"`
	PaymentReference string        `json:"paymentReference,omitempty"`
	Items            []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ItemRequest is one line of an order request.
type ItemRequest struct {
	MenuItemID string          `json:"menuItemId" validate:"required"`
	Quantity   int             `json:"quantity" validate:"min=1"`
	Price      decimal.Decimal `json:"price"`
}

// Order is a placed order as stored in the orders table. Amounts are stored
// as decimal strings.
type Order struct {
	OrderID          string      `json:"orderId" dynamodbav:"orderId"`
	RestaurantID     string      `json:"restaurantId" dynamodbav:"restaurantId"`
	CustomerID       string      `json:"customerId" dynamodbav:"customerId"`
	PaymentReference string      `json:"paymentReference,omitempty" dynamodbav:"paymentReference,omitempty"`
	Items            []OrderItem `json:"items" dynamodbav:"items"`
	Total            string      `json:"total" dynamodbav:"total"`
	PlacedAt         time.Time   `json:"placedAt" dynamodbav:"placedAt"`
}

// OrderItem is one stored order line with its unit price.
type OrderItem struct {
	MenuItemID string `json:"menuItemId" dynamodbav:"menuItemId"`
	Quantity   int    `json:"quantity" dynamodbav:"quantity"`
	Price      string `json:"price" dynamodbav:"price"`
}

// OrderEvent is published on the order stream.
type OrderEvent struct {
	EventType    string    `json:"eventType"`
	OrderID      string    `json:"orderId"`
	RestaurantID string    `json:"restaurantId"`
	Total        string    `json:"total"`
	PlacedAt     time.Time `json:"placedAt"`
}

// Total sums price times quantity over items.
func Total(items []ItemRequest) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// OrderStore persists orders.
type OrderStore interface {
	Put(ctx context.Context, order Order) error
}

// OrderScanner walks every stored order a page at a time.
type OrderScanner interface {
	ScanPages(ctx context.Context, pageSize int32, fn func(orders []Order) error) error
}

// Publisher sends a keyed message to the order stream.
type Publisher interface {
	Publish(ctx context.Context, key string, data []byte) error
}

// NopPublisher drops every message.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }

// validationError turns validator field errors into a single validation error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return cloudfn.ErrValidation("invalid request").WithCause(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "OrderRequest.")
		field = strings.TrimPrefix(field, "CaptureRequest.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return cloudfn.ErrValidation(strings.Join(msgs, "; "))
}
