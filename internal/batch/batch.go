// Package batch converts carts into order lines and order lines back into
// the batches kitchens and customers look at.
package batch

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
)

var (
	ErrEmptyCart   = errors.New("empty cart")
	ErrInvalidItem = errors.New("invalid item")
)

// CartLine is what a customer submits at checkout.
type CartLine struct {
	FoodID   string
	Quantity int
}

// Item is a line as shown inside a batch.
type Item struct {
	LineID    int64
	FoodID    string
	FoodName  string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Batch is the derived view of all lines sharing a batch id.
type Batch struct {
	ID           string
	CustomerID   string
	CustomerName string
	Status       lifecycle.Status
	BonoNumber   *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Total        decimal.Decimal
	Items        []Item
}

// FoodIDs returns the distinct food ids of a cart in submission order.
func FoodIDs(cart []CartLine) []string {
	seen := make(map[string]struct{}, len(cart))
	ids := make([]string, 0, len(cart))
	for _, c := range cart {
		if _, ok := seen[c.FoodID]; ok {
			continue
		}
		seen[c.FoodID] = struct{}{}
		ids = append(ids, c.FoodID)
	}
	return ids
}

// BuildLines prices a cart against the catalog and returns PENDING lines that
// share batchID. Nothing is returned unless every line is valid.
func BuildLines(batchID, customerID string, cart []CartLine, catalog map[string]entity.Food, now time.Time) ([]entity.OrderLine, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	lines := make([]entity.OrderLine, 0, len(cart))
	for i, c := range cart {
		if c.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidItem, i, c.Quantity)
		}
		food, ok := catalog[c.FoodID]
		if !ok || !food.Available {
			return nil, fmt.Errorf("%w: unknown food %q", ErrInvalidItem, c.FoodID)
		}
		qty := decimal.NewFromInt(int64(c.Quantity))
		lines = append(lines, entity.OrderLine{
			BatchID:    batchID,
			CustomerID: customerID,
			FoodID:     food.ID,
			Quantity:   c.Quantity,
			UnitPrice:  food.Price,
			LineTotal:  food.Price.Mul(qty),
			Status:     lifecycle.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return lines, nil
}

// Group folds lines into batches in order of each batch's first line.
func Group(lines []entity.OrderLine) []Batch {
	index := make(map[string]int)
	batches := make([]Batch, 0)

	for _, line := range lines {
		pos, ok := index[line.BatchID]
		if !ok {
			pos = len(batches)
			index[line.BatchID] = pos
			batches = append(batches, Batch{
				ID:         line.BatchID,
				CustomerID: line.CustomerID,
				Status:     line.Status,
				BonoNumber: line.BonoNumber,
				CreatedAt:  line.CreatedAt,
				UpdatedAt:  line.UpdatedAt,
				Total:      decimal.Zero,
			})
		}
		b := &batches[pos]
		if line.Customer != nil && b.CustomerName == "" {
			b.CustomerName = line.Customer.Name
		}
		if line.CreatedAt.Before(b.CreatedAt) {
			b.CreatedAt = line.CreatedAt
		}
		if line.UpdatedAt.After(b.UpdatedAt) {
			b.UpdatedAt = line.UpdatedAt
		}
		if b.BonoNumber == nil && line.BonoNumber != nil {
			b.BonoNumber = line.BonoNumber
		}
		b.Total = b.Total.Add(line.LineTotal)

		item := Item{
			LineID:    line.ID,
			FoodID:    line.FoodID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
		if line.Food != nil {
			item.FoodName = line.Food.Name
		}
		b.Items = append(b.Items, item)
	}

	for i := range batches {
		sortItems(batches[i].Items)
	}
	return batches
}

// One groups lines known to belong to a single batch.
func One(lines []entity.OrderLine) (Batch, bool) {
	batches := Group(lines)
	if len(batches) != 1 {
		return Batch{}, false
	}
	return batches[0], true
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LineID < items[j].LineID
	})
}
