package tiles

import (
	"errors"
	"fmt"
)

var (
	// ErrTileNotFound is returned by TileData when a tile has no data.
	ErrTileNotFound = errors.New("tile not found")

	// ErrUnsupported is returned by Registry.Open when no provider accepts a resource.
	ErrUnsupported = errors.New("unsupported tile container")

	// ErrReadOnly is returned by mutating operations on read-only containers.
	ErrReadOnly = errors.New("tile container is read-only")

	// ErrDisposed is returned by operations on a disposed container.
	ErrDisposed = errors.New("tile container disposed")
)

// ErrTileOutOfRange indicates tile indices outside a zoom level's grid
type ErrTileOutOfRange struct {
	Level, X, Y int
}

func (e *ErrTileOutOfRange) Error() string {
	return fmt.Sprintf("tile %d/%d/%d outside tile matrix", e.Level, e.X, e.Y)
}

// ErrUnknownLevel indicates a zoom level the matrix does not define
type ErrUnknownLevel struct {
	Level int
}

func (e *ErrUnknownLevel) Error() string {
	return fmt.Sprintf("unknown zoom level %d", e.Level)
}

// ErrInvalidMatrix indicates zoom levels that violate tile matrix ordering
type ErrInvalidMatrix struct {
	Reason string
}

func (e *ErrInvalidMatrix) Error() string {
	return fmt.Sprintf("invalid tile matrix: %s", e.Reason)
}

// ErrUnsupportedSRID indicates a coordinate reference system without a projection
type ErrUnsupportedSRID struct {
	SRID int
}

func (e *ErrUnsupportedSRID) Error() string {
	return fmt.Sprintf("unsupported srid %d", e.SRID)
}
