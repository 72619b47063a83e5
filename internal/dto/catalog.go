package dto

import (
	"github.com/shopspring/decimal"

	"github.com/Additional-Code/bono/internal/entity"
)

// FoodResponse is a menu entry.
type FoodResponse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func FromFoods(foods []entity.Food) []FoodResponse {
	out := make([]FoodResponse, 0, len(foods))
	for _, f := range foods {
		out = append(out, FoodResponse{ID: f.ID, Name: f.Name, Price: f.Price})
	}
	return out
}
