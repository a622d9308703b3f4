package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/gin-gonic/gin"
)

var errSourceNotFound = errors.New("source not found")

type tileRequest struct {
	Source string `uri:"source" validate:"required"`
	Z      *int   `uri:"z" validate:"required,gte=0"`
	X      *int   `uri:"x" validate:"required,gte=0"`
	Y      *int   `uri:"y" validate:"required,gte=0"`
}

func (h *Handler) sourceByName(name string) (*elevation.Source, bool) {
	for _, src := range h.catalog.Sources() {
		if src.Name() == name {
			return src, true
		}
	}
	return nil, false
}

// Tile serves the stored bytes of one coverage tile. The per-tile scale and
// offset travel in response headers so clients can decode the codes.
func (h *Handler) Tile(c *gin.Context) {
	var req tileRequest
	if err := c.ShouldBindUri(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	src, ok := h.sourceByName(req.Source)
	if !ok {
		respondError(c, http.StatusNotFound, errSourceNotFound)
		return
	}

	ctx := c.Request.Context()
	z, x, y := *req.Z, *req.X, *req.Y

	data, err := src.Container().TileData(ctx, z, x, y)
	if err != nil {
		var outOfRange *tiles.ErrTileOutOfRange
		var unknownLevel *tiles.ErrUnknownLevel
		switch {
		case errors.Is(err, tiles.ErrTileNotFound), errors.As(err, &outOfRange), errors.As(err, &unknownLevel):
			respondError(c, http.StatusNotFound, tiles.ErrTileNotFound)
		default:
			respondError(c, http.StatusInternalServerError, err)
		}
		return
	}

	contentType := "application/octet-stream"
	if cov, ok := src.Coverage(); ok {
		if cov.Datatype == coverage.DatatypeInteger {
			contentType = "image/png"
		}
		if ctl, ok := tiles.ControlOf[coverage.Control](src.Container()); ok {
			anc, err := ctl.TileAncillary(ctx, z, x, y)
			if err != nil {
				respondError(c, http.StatusInternalServerError, err)
				return
			}
			c.Header("X-Tile-Scale", strconv.FormatFloat(anc.Scale, 'g', -1, 64))
			c.Header("X-Tile-Offset", strconv.FormatFloat(anc.Offset, 'g', -1, 64))
		}
	}

	c.Data(http.StatusOK, contentType, data)
}
