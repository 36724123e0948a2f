package models

import "errors"

var (
	// ErrShapeMismatch means an array does not have the expected rank or shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrCenterNotFound means ring segmentation could not establish a common center.
	ErrCenterNotFound = errors.New("center not determined")

	// ErrDegenerateFit means a least-squares fit did not converge. Results carrying
	// it still hold the best available coefficients.
	ErrDegenerateFit = errors.New("degenerate fit")

	// ErrConfiguration means a required constant is missing or invalid.
	ErrConfiguration = errors.New("configuration error")
)
