// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package checkpointcache is an in-memory, process-wide cache of
// decompressed byte ranges, keyed by a caller-chosen stream identity plus
// the decompressed offset a streamio.Reader checkpoint starts at, so a
// second ReadAt over the same interval of the same logical stream skips
// inflate entirely.
package checkpointcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allegro/bigcache/v3"
)

// Cache wraps a bigcache.BigCache as a blob-per-checkpoint store.
type Cache struct {
	bc *bigcache.BigCache
}

// New returns a Cache willing to hold up to maxSizeMB megabytes total.
func New(maxSizeMB int) (*Cache, error) {
	bc, err := bigcache.New(context.Background(), bigcache.Config{
		HardMaxCacheSize: maxSizeMB,
		Shards:           1024,
		MaxEntrySize:     500,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("checkpointCacheOpen", "maxSizeMB", maxSizeMB)
	return &Cache{bc: bc}, nil
}

// Get returns the cached decompressed blob for one checkpoint interval of
// streamID starting at outPos, if present.
func (c *Cache) Get(streamID string, outPos int64) ([]byte, bool) {
	blob, err := c.bc.Get(key(streamID, outPos))
	if err != nil {
		return nil, false
	}
	return blob, true
}

// Set stores blob as decompressed bytes of streamID beginning at outPos.
// How much of the interval the blob covers is up to the caller.
func (c *Cache) Set(streamID string, outPos int64, blob []byte) {
	c.bc.Set(key(streamID, outPos), blob)
}

func key(streamID string, outPos int64) string {
	return fmt.Sprintf("%s:%d", streamID, outPos)
}
