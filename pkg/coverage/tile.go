package coverage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"math"
)

// Tile is a grid of samples in meters, stored row-major from the top-left.
// Missing samples are NaN.
type Tile struct {
	Width  int
	Height int
	Values []float64
}

// NewTile returns a tile with every sample missing.
func NewTile(width, height int) *Tile {
	values := make([]float64, width*height)
	for i := range values {
		values[i] = math.NaN()
	}
	return &Tile{Width: width, Height: height, Values: values}
}

// At returns the sample at (col, row), NaN outside the tile.
func (t *Tile) At(col, row int) float64 {
	if col < 0 || row < 0 || col >= t.Width || row >= t.Height {
		return math.NaN()
	}
	return t.Values[row*t.Width+col]
}

// Set stores v at (col, row). Out-of-range positions are ignored.
func (t *Tile) Set(col, row int, v float64) {
	if col < 0 || row < 0 || col >= t.Width || row >= t.Height {
		return
	}
	t.Values[row*t.Width+col] = v
}

// FitTile chooses tile ancillary parameters for values.
//
// Integer coverages spread the tile's grid value range over the whole
// valid code range; float coverages, empty tiles and constant tiles use
// identity scaling (constant tiles shift their offset to the value).
func (c *Codec) FitTile(values []float64) TileAncillary {
	anc := statistics(values)
	anc.Scale, anc.Offset = 1, 0

	if c.cov.Datatype == DatatypeFloat || math.IsNaN(anc.Min) {
		return anc
	}

	gmin, gmax := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		g := (v/c.cov.UnitsToMeters - c.cov.Offset) / c.cov.Scale
		gmin = math.Min(gmin, g)
		gmax = math.Max(gmax, g)
	}

	span := c.hi - c.lo
	anc.Offset = gmin - c.lo
	if gmax > gmin {
		anc.Scale = (gmax - gmin) / span
		anc.Offset = gmin - c.lo*anc.Scale
	}
	return anc
}

func statistics(values []float64) TileAncillary {
	anc := TileAncillary{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), StdDev: math.NaN()}

	var n int
	var sum, sumSq float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if n == 0 || v < anc.Min {
			anc.Min = v
		}
		if n == 0 || v > anc.Max {
			anc.Max = v
		}
		n++
		sum += v
		sumSq += v * v
	}
	if n == 0 {
		return anc
	}
	anc.Mean = sum / float64(n)
	anc.StdDev = math.Sqrt(math.Max(sumSq/float64(n)-anc.Mean*anc.Mean, 0))
	return anc
}

// EncodeTile quantizes t and packs it in the coverage's storage format:
// a 16-bit grayscale PNG for integer coverages, little-endian float32
// samples for float coverages.
func (c *Codec) EncodeTile(t *Tile) ([]byte, TileAncillary, error) {
	if len(t.Values) != t.Width*t.Height {
		return nil, TileAncillary{}, &ErrTileSize{Width: t.Width, Height: t.Height, Got: len(t.Values)}
	}
	anc := c.FitTile(t.Values)

	if c.cov.Datatype == DatatypeFloat {
		buf := make([]byte, 4*len(t.Values))
		for i, v := range t.Values {
			code := float32(c.Encode(v, anc.Offset, anc.Scale))
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(code))
		}
		return buf, anc, nil
	}

	img := image.NewGray16(image.Rect(0, 0, t.Width, t.Height))
	for i, v := range t.Values {
		code := math.Round(c.Encode(v, anc.Offset, anc.Scale))
		x, y := i%t.Width, i/t.Width
		off := img.PixOffset(x, y)
		binary.BigEndian.PutUint16(img.Pix[off:], uint16(code))
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, TileAncillary{}, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), anc, nil
}

// DecodeTile unpacks stored tile data into meters. width and height are
// required for float coverages and checked for integer coverages when
// non-zero.
func (c *Codec) DecodeTile(data []byte, width, height int, anc TileAncillary) (*Tile, error) {
	if c.cov.Datatype == DatatypeFloat {
		if width <= 0 || height <= 0 || len(data) != 4*width*height {
			return nil, &ErrTileSize{Width: width, Height: height, Got: len(data) / 4}
		}
		t := &Tile{Width: width, Height: height, Values: make([]float64, width*height)}
		for i := range t.Values {
			code := math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
			t.Values[i] = c.Decode(float64(code), anc.Offset, anc.Scale)
		}
		return t, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	b := img.Bounds()
	if (width > 0 && b.Dx() != width) || (height > 0 && b.Dy() != height) {
		return nil, &ErrTileSize{Width: width, Height: height, Got: b.Dx() * b.Dy()}
	}

	t := &Tile{Width: b.Dx(), Height: b.Dy(), Values: make([]float64, b.Dx()*b.Dy())}
	gray, isGray16 := img.(*image.Gray16)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			var code uint16
			if isGray16 {
				code = gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			} else {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				code = uint16(r)
			}
			t.Values[y*t.Width+x] = c.Decode(float64(code), anc.Offset, anc.Scale)
		}
	}
	return t, nil
}
