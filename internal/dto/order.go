package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/bono/internal/batch"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
)

// BatchResponse is a batch as exposed over HTTP and pushed on realtime channels.
type BatchResponse struct {
	ID           string           `json:"id"`
	CustomerID   string           `json:"customer_id"`
	CustomerName string           `json:"customer_name,omitempty"`
	Status       lifecycle.Status `json:"status"`
	BonoNumber   *int             `json:"bono_number"`
	Total        decimal.Decimal  `json:"total"`
	Items        []ItemResponse   `json:"items"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ItemResponse is one line of a batch.
type ItemResponse struct {
	ID        int64           `json:"id"`
	FoodID    string          `json:"food_id"`
	FoodName  string          `json:"food_name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CheckoutRequest is the body of POST /orders/checkout.
type CheckoutRequest struct {
	Items []CartItemRequest `json:"items"`
}

// CartItemRequest carries no price; prices always come from the catalog.
type CartItemRequest struct {
	FoodID   string `json:"food_id"`
	Quantity int    `json:"quantity"`
}

// CheckoutResponse is returned once the batch is stored.
type CheckoutResponse struct {
	BatchID string `json:"batch_id"`
}

// TransitionRequest is the body of POST /orders/:id/transition.
type TransitionRequest struct {
	Status string `json:"status"`
}

// FromBatch converts the domain view into its wire shape.
func FromBatch(b batch.Batch) BatchResponse {
	items := make([]ItemResponse, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, ItemResponse{
			ID:        it.LineID,
			FoodID:    it.FoodID,
			FoodName:  it.FoodName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return BatchResponse{
		ID:           b.ID,
		CustomerID:   b.CustomerID,
		CustomerName: b.CustomerName,
		Status:       b.Status,
		BonoNumber:   b.BonoNumber,
		Total:        b.Total,
		Items:        items,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

// FromBatches converts a list, never returning nil so JSON renders [].
func FromBatches(bs []batch.Batch) []BatchResponse {
	out := make([]BatchResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, FromBatch(b))
	}
	return out
}

// Cart converts the request body into cart lines.
func (r CheckoutRequest) Cart() []batch.CartLine {
	cart := make([]batch.CartLine, 0, len(r.Items))
	for _, it := range r.Items {
		cart = append(cart, batch.CartLine{FoodID: it.FoodID, Quantity: it.Quantity})
	}
	return cart
}

// StatusLogResponse is one entry of GET /orders/:id/history.
type StatusLogResponse struct {
	From       lifecycle.Status `json:"from,omitempty"`
	To         lifecycle.Status `json:"to"`
	ActorID    string           `json:"actor_id,omitempty"`
	ActorRole  lifecycle.Role   `json:"actor_role,omitempty"`
	BonoNumber *int             `json:"bono_number,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// FromStatusLog converts history rows, never returning nil.
func FromStatusLog(entries []entity.BatchStatusLog) []StatusLogResponse {
	out := make([]StatusLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, StatusLogResponse{
			From:       e.FromStatus,
			To:         e.ToStatus,
			ActorID:    e.ActorID,
			ActorRole:  e.ActorRole,
			BonoNumber: e.BonoNumber,
			OccurredAt: e.OccurredAt,
		})
	}
	return out
}
