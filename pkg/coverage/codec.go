package coverage

import (
	"math"
)

// Codec encodes and decodes samples for one coverage.
// It is immutable and safe for concurrent use.
type Codec struct {
	cov GriddedCoverage
	lo  float64 // lowest valid code
	hi  float64 // highest valid code
}

// NewCodec validates cov and builds its codec. Zero UnitsToMeters defaults
// to 1 and an empty Datatype defaults to integer.
func NewCodec(cov GriddedCoverage) (*Codec, error) {
	if cov.Datatype == "" {
		cov.Datatype = DatatypeInteger
	}
	if cov.UnitsToMeters == 0 {
		cov.UnitsToMeters = 1
	}
	if cov.GridCellEncoding == "" {
		cov.GridCellEncoding = GridValueIsCenter
	}

	switch {
	case cov.Scale == 0:
		return nil, &ErrInvalidCoverage{Field: "scale", Reason: "must be non-zero"}
	case !finite(cov.Scale):
		return nil, &ErrInvalidCoverage{Field: "scale", Reason: "must be finite"}
	case !finite(cov.Offset):
		return nil, &ErrInvalidCoverage{Field: "offset", Reason: "must be finite"}
	case cov.UnitsToMeters < 0 || !finite(cov.UnitsToMeters):
		return nil, &ErrInvalidCoverage{Field: "units to meters", Reason: "must be positive"}
	}

	c := &Codec{cov: cov}
	switch cov.Datatype {
	case DatatypeInteger:
		null := cov.DataNull
		if null != math.Trunc(null) || null < 0 || null > MaxIntegerCode {
			return nil, &ErrInvalidCoverage{Field: "data null", Reason: "must be a 16-bit unsigned integer"}
		}
		c.lo, c.hi = 0, MaxIntegerCode
		switch null {
		case MaxIntegerCode:
			c.hi = MaxIntegerCode - 1
		case 0:
			c.lo = 1
		}
	case DatatypeFloat:
		if math.IsNaN(cov.DataNull) {
			return nil, &ErrInvalidCoverage{Field: "data null", Reason: "must not be NaN"}
		}
		c.lo, c.hi = -math.MaxFloat32, math.MaxFloat32
		if cov.DataNull >= math.MaxFloat32 {
			c.hi = float64(math.Nextafter32(math.MaxFloat32, 0))
		}
		if cov.DataNull <= -math.MaxFloat32 {
			c.lo = float64(math.Nextafter32(-math.MaxFloat32, 0))
		}
	default:
		return nil, &ErrInvalidCoverage{Field: "datatype", Reason: string(cov.Datatype)}
	}
	return c, nil
}

// Coverage returns the normalised coverage parameters.
func (c *Codec) Coverage() GriddedCoverage {
	return c.cov
}

// Null returns the code reserved for missing samples.
func (c *Codec) Null() float64 {
	return c.cov.DataNull
}

// Encode maps a value in meters to its stored code under the given tile
// parameters. NaN maps to the null code; out-of-range values saturate.
// The result is not rounded; rounding happens when a tile is packed.
func (c *Codec) Encode(value, tileOffset, tileScale float64) float64 {
	if math.IsNaN(value) {
		return c.cov.DataNull
	}
	if tileScale == 0 {
		tileScale = 1
	}

	u := value / c.cov.UnitsToMeters
	g := (u - c.cov.Offset) / c.cov.Scale
	code := (g - tileOffset) / tileScale

	return c.saturate(code)
}

// Decode maps a stored code back to meters. The null code decodes to NaN
// regardless of the tile parameters.
func (c *Codec) Decode(code, tileOffset, tileScale float64) float64 {
	if math.IsNaN(code) || c.IsNull(code) {
		return math.NaN()
	}
	if tileScale == 0 {
		tileScale = 1
	}

	g := code*tileScale + tileOffset
	u := g*c.cov.Scale + c.cov.Offset
	return u * c.cov.UnitsToMeters
}

// IsNull reports whether code is the null code.
func (c *Codec) IsNull(code float64) bool {
	if c.cov.Datatype == DatatypeFloat {
		return float32(code) == float32(c.cov.DataNull)
	}
	return code == c.cov.DataNull
}

func (c *Codec) saturate(code float64) float64 {
	switch {
	case math.IsNaN(code):
		return c.cov.DataNull
	case code < c.lo:
		code = c.lo
	case code > c.hi:
		code = c.hi
	}

	// A null inside the valid range is stepped around.
	if c.cov.Datatype == DatatypeInteger {
		if math.Abs(code-c.cov.DataNull) < 0.5 {
			if c.cov.DataNull > c.lo {
				return c.cov.DataNull - 1
			}
			return c.cov.DataNull + 1
		}
		return code
	}
	if float32(code) == float32(c.cov.DataNull) {
		return float64(math.Nextafter32(float32(code), 0))
	}
	return code
}

// Tolerance returns the worst-case error in meters introduced by storing a
// code under the given tile scale.
func (c *Codec) Tolerance(tileScale float64) float64 {
	if tileScale == 0 {
		tileScale = 1
	}
	if c.cov.Datatype == DatatypeFloat {
		return 0
	}
	return math.Abs(c.cov.Scale*tileScale*c.cov.UnitsToMeters) / 2
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
