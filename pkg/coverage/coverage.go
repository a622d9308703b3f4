// Package coverage implements the gridded coverage codec: a two-level affine
// quantization mapping real-valued samples (elevations in meters) to stored
// codes and back.
//
// A coverage-wide scale and offset map meters (after unit conversion) to
// grid values; a per-tile ancillary scale and offset then map grid values
// to the codes actually stored:
//
//	u    = value / UnitsToMeters
//	g    = (u - Offset) / Scale
//	code = (g - tile.Offset) / tile.Scale
//
// NaN encodes to the DataNull code, and DataNull decodes to NaN. Codes that
// would fall outside the datatype's representable range saturate at the
// nearest valid code and never collide with DataNull.
//
// Example:
//
//	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
//	cov.Scale, cov.Offset = 0.31, -11000
//
//	codec, err := coverage.NewCodec(cov)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	code := codec.Encode(1234.5, 0, 1)
//	meters := codec.Decode(code, 0, 1)
package coverage

import (
	"math"
)

// Datatype is the storage datatype of coverage tiles.
type Datatype string

const (
	// DatatypeInteger stores 16-bit unsigned codes in grayscale PNG tiles.
	DatatypeInteger Datatype = "integer"
	// DatatypeFloat stores 32-bit float codes in raw little-endian tiles.
	DatatypeFloat Datatype = "float"
)

// GridCellEncoding describes what a stored sample represents within its cell.
type GridCellEncoding string

const (
	GridValueIsCenter GridCellEncoding = "grid-value-is-center"
	GridValueIsArea   GridCellEncoding = "grid-value-is-area"
	GridValueIsCorner GridCellEncoding = "grid-value-is-corner"
)

// Code range limits for integer coverages.
const (
	MaxIntegerCode     = math.MaxUint16
	DefaultIntegerNull = float64(math.MaxUint16)
	DefaultFloatNull   = float64(math.MaxFloat32)
)

// GriddedCoverage holds coverage-wide encoding parameters.
type GriddedCoverage struct {
	TileMatrixSetName string
	Datatype          Datatype
	Scale             float64
	Offset            float64
	Precision         float64
	DataNull          float64
	GridCellEncoding  GridCellEncoding
	UnitsToMeters     float64 // stored units * UnitsToMeters = meters
	UOM               string
	FieldName         string
}

// DefaultCoverage returns a coverage with identity scaling and the default
// null value for datatype.
func DefaultCoverage(datatype Datatype) GriddedCoverage {
	cov := GriddedCoverage{
		Datatype:         datatype,
		Scale:            1,
		Offset:           0,
		Precision:        1,
		GridCellEncoding: GridValueIsCenter,
		UnitsToMeters:    1,
		UOM:              "m",
		FieldName:        "Height",
		DataNull:         DefaultIntegerNull,
	}
	if datatype == DatatypeFloat {
		cov.DataNull = DefaultFloatNull
		cov.Precision = 0
	}
	return cov
}

// TileAncillary holds the per-tile affine parameters and statistics.
// Min, Max, Mean and StdDev are in meters over the tile's non-null samples.
type TileAncillary struct {
	Scale  float64
	Offset float64
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// IdentityAncillary is the ancillary assumed for tiles without one.
func IdentityAncillary() TileAncillary {
	return TileAncillary{Scale: 1, Offset: 0, Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), StdDev: math.NaN()}
}
