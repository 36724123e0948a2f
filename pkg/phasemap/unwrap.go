package phasemap

import (
	"gonum.org/v1/gonum/floats"

	"fpreduce/internal/models"
)

// Unwrap removes the free-spectral-range ambiguity: U = W + O·max(W).
// Neither input is modified.
func Unwrap(wrapped *models.Map, order *models.OrderMap) (*models.Map, error) {
	if err := wrapped.Validate("wrapped phase map"); err != nil {
		return nil, err
	}
	if err := models.CheckShape("order map", order.Cols, order.Rows, wrapped.Cols, wrapped.Rows); err != nil {
		return nil, err
	}

	period := floats.Max(wrapped.Data)
	unwrapped := models.NewMap(wrapped.Cols, wrapped.Rows)
	for i, w := range wrapped.Data {
		unwrapped.Data[i] = w + float64(order.Data[i])*period
	}
	return unwrapped, nil
}
