package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/beetlebugorg/tilestack/pkg/catalog"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/gin-gonic/gin"
)

func (h *Handler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

type sourceView struct {
	Path       string       `json:"path"`
	Name       string       `json:"name"`
	Provider   string       `json:"provider"`
	Content    string       `json:"content"`
	Bounds     tiles.Bounds `json:"bounds"`
	Resolution float64      `json:"resolution"`
	Levels     []int        `json:"levels"`
}

func newSourceView(src *elevation.Source) sourceView {
	levels := src.Levels()
	ids := make([]int, len(levels))
	for i, z := range levels {
		ids[i] = z.Level
	}
	return sourceView{
		Path:       src.Path(),
		Name:       src.Name(),
		Provider:   src.Provider(),
		Content:    src.Content(),
		Bounds:     src.Bounds(),
		Resolution: src.Resolution(),
		Levels:     ids,
	}
}

func (h *Handler) ListSources(c *gin.Context) {
	srcs := h.catalog.Sources()
	out := make([]sourceView, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, newSourceView(src))
	}
	respond(c, http.StatusOK, "", out)
}

type addSourceRequest struct {
	Path string `json:"path" validate:"required"`
	// Scan walks a directory and catalogs everything recognized under it.
	Scan bool `json:"scan"`
}

func (h *Handler) AddSource(c *gin.Context) {
	var req addSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()

	if req.Scan {
		report, err := h.catalog.AddDir(ctx, req.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				respondError(c, http.StatusNotFound, err)
				return
			}
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		respond(c, http.StatusOK, "directory scanned", report)
		return
	}

	switch h.catalog.Ingest(ctx, req.Path) {
	case catalog.IngestSuccess:
		var data any
		if src, ok := h.catalog.Lookup(req.Path); ok {
			data = newSourceView(src)
		}
		respond(c, http.StatusCreated, "source added", data)
	case catalog.IngestIgnore:
		if src, ok := h.catalog.Lookup(req.Path); ok {
			respond(c, http.StatusOK, "source unchanged", newSourceView(src))
			return
		}
		respond(c, http.StatusOK, "unrecognized format", nil)
	default:
		respondError(c, http.StatusUnprocessableEntity, errors.New("file could not be cataloged as an elevation source"))
	}
}

type removeSourceRequest struct {
	Path string `form:"path" validate:"required"`
}

func (h *Handler) RemoveSource(c *gin.Context) {
	var req removeSourceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.catalog.Remove(c.Request.Context(), req.Path); err != nil {
		if errors.Is(err, catalog.ErrNotCataloged) {
			respondError(c, http.StatusNotFound, err)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}
