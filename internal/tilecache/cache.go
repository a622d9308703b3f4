// Package tilecache provides companion caches for tiles fetched from
// streamed tile services.
package tilecache

import (
	"context"
	"fmt"
)

type Key struct {
	Z int
	X int
	Y int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

type TileCache interface {
	Get(ctx context.Context, k Key) ([]byte, bool, error)
	Set(ctx context.Context, k Key, v []byte) error
	Close() error
}
