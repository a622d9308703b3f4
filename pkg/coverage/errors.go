package coverage

import (
	"errors"
	"fmt"
)

// ErrNoCoverage is returned when a container carries no gridded coverage control.
var ErrNoCoverage = errors.New("container has no gridded coverage")

// ErrInvalidCoverage indicates unusable coverage parameters
type ErrInvalidCoverage struct {
	Field  string
	Reason string
}

func (e *ErrInvalidCoverage) Error() string {
	return fmt.Sprintf("invalid gridded coverage %s: %s", e.Field, e.Reason)
}

// ErrTileSize indicates decoded tile data that does not match the expected dimensions
type ErrTileSize struct {
	Width, Height int
	Got           int
}

func (e *ErrTileSize) Error() string {
	return fmt.Sprintf("tile data does not match %dx%d (got %d)", e.Width, e.Height, e.Got)
}
