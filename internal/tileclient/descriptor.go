// Package tileclient opens streamed tile services described by a small local
// descriptor file. Fetched tiles are kept in a companion cache so a service
// is only asked for each tile once.
//
// Descriptor format (YAML after a marker line):
//
//	#tileservice
//	name: srtm-30m
//	url: https://tiles.example.com/dem/{z}/{x}/{y}.png
//	content: terrain
//	srid: 3857
//	minZoom: 0
//	maxZoom: 12
//	tileSize: 256
//	coverage:
//	  datatype: integer
//	  scale: 0.1
//	  offset: -1000
package tileclient

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/beetlebugorg/tilestack/internal/tiledir"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"gopkg.in/yaml.v2"
)

// Marker is the first line of every descriptor.
const Marker = "#tileservice"

type Descriptor struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description,omitempty"`
	URL         string                `yaml:"url"`
	Content     string                `yaml:"content"`
	SRID        int                   `yaml:"srid"`
	MinZoom     int                   `yaml:"minZoom"`
	MaxZoom     int                   `yaml:"maxZoom"`
	TileSize    int                   `yaml:"tileSize"`
	Bounds      []float64             `yaml:"bounds,omitempty"`
	Timeout     time.Duration         `yaml:"timeout,omitempty"`
	Headers     map[string]string     `yaml:"headers,omitempty"`
	Coverage    *tiledir.CoverageSpec `yaml:"coverage,omitempty"`
}

// ParseDescriptor parses descriptor bytes. The marker line is required.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if !bytes.HasPrefix(data, []byte(Marker)) {
		return d, fmt.Errorf("missing %s marker", Marker)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse tile service descriptor: %w", err)
	}
	if d.URL == "" {
		return d, fmt.Errorf("tile service descriptor: url required")
	}
	if d.SRID == 0 {
		d.SRID = tiles.SRIDWebMercator
	}
	if d.TileSize == 0 {
		d.TileSize = 256
	}
	if d.Timeout == 0 {
		d.Timeout = 30 * time.Second
	}
	return d, nil
}

// ReadDescriptor reads and parses the descriptor at path.
func ReadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	return ParseDescriptor(data)
}

// Marshal renders d with the marker line.
func (d Descriptor) Marshal() ([]byte, error) {
	body, err := yaml.Marshal(d)
	if err != nil {
		return nil, err
	}
	return append([]byte(Marker+"\n"), body...), nil
}

// TileURL expands the {z}/{x}/{y} template. {-y} selects TMS row order.
func (d Descriptor) TileURL(z, x, y int) string {
	tmsY := (1 << z) - 1 - y
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa(tmsY),
	)
	return r.Replace(d.URL)
}
