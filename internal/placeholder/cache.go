// Package placeholder serves filler image URLs for requested pixel
// resolutions. Each resolution is generated once: a fully transparent
// PNG is synthesized, uploaded to the image host, and the returned URL
// is persisted forever in a JSON map on disk.
package placeholder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mediagate/internal/persist"
)

// ErrInvalidDimensions rejects non-positive resolutions before any I/O.
var ErrInvalidDimensions = errors.New("placeholder: dimensions must be positive")

// Uploader pushes an encoded image to the external image host and
// returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, png []byte) (string, error)
}

// Cache is the disk-backed resolution → URL map. Entries are
// append-only and never expire; a URL, once written, is treated as
// permanently valid.
type Cache struct {
	mu       sync.Mutex
	urls     map[string]string
	path     string
	uploader Uploader
	flight   singleflight.Group
	logger   *zap.Logger
}

// Open loads the persisted map from path. A missing file starts empty;
// an unparsable one is moved aside under a timestamped backup name and
// replaced with an empty map, never a fatal error.
func Open(path string, uploader Uploader, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		urls:     make(map[string]string),
		path:     path,
		uploader: uploader,
		logger:   logger.Named("placeholder"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// cold start
	case err != nil:
		return nil, fmt.Errorf("placeholder: read %s: %w", path, err)
	default:
		var loaded map[string]string
		if jsonErr := json.Unmarshal(data, &loaded); jsonErr != nil {
			backup, backupErr := persist.BackupCorrupt(path)
			if backupErr != nil {
				return nil, fmt.Errorf("placeholder: back up corrupt %s: %w", path, backupErr)
			}
			c.logger.Warn("resolution cache unparsable, backed up and reset",
				zap.String("path", path),
				zap.String("backup", backup),
				zap.Error(jsonErr),
			)
		} else {
			c.urls = loaded
			if c.urls == nil {
				c.urls = make(map[string]string)
			}
		}
	}

	return c, nil
}

// ResolutionKey renders the canonical "<width>x<height>" map key.
func ResolutionKey(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// GetOrCreateResolutionURL returns the placeholder URL for the exact
// requested resolution, synthesizing and uploading it on first use.
// Upload errors propagate to the caller; there is no automatic retry.
// Concurrent cold-cache requests for the same resolution share one
// upload.
func (c *Cache) GetOrCreateResolutionURL(ctx context.Context, width, height int) (string, error) {
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("%w: got %dx%d", ErrInvalidDimensions, width, height)
	}

	key := ResolutionKey(width, height)

	c.mu.Lock()
	if url, ok := c.urls[key]; ok {
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	url, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a previous flight for this key
		// may have landed between the miss and here.
		c.mu.Lock()
		if url, ok := c.urls[key]; ok {
			c.mu.Unlock()
			return url, nil
		}
		c.mu.Unlock()

		png, err := transparentPNG(width, height)
		if err != nil {
			return "", fmt.Errorf("placeholder: synthesize %s: %w", key, err)
		}

		uploaded, err := c.uploader.Upload(ctx, png)
		if err != nil {
			return "", fmt.Errorf("placeholder: upload %s: %w", key, err)
		}

		c.mu.Lock()
		c.urls[key] = uploaded
		snapshot := make(map[string]string, len(c.urls))
		for k, v := range c.urls {
			snapshot[k] = v
		}
		c.mu.Unlock()

		if err := persist.WriteJSONAtomic(c.path, snapshot); err != nil {
			// The entry is live in memory; losing the write only
			// costs a duplicate upload after a restart.
			c.logger.Error("resolution cache persist failed",
				zap.String("path", c.path),
				zap.Error(err),
			)
		}

		c.logger.Info("placeholder uploaded",
			zap.String("resolution", key),
			zap.String("url", uploaded),
		)
		return uploaded, nil
	})
	if err != nil {
		return "", err
	}
	return url.(string), nil
}

// Len reports the number of cached resolutions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.urls)
}
