package safety

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"
)

const jpegQuality = 75

// fetchImages downloads, downscales and re-encodes every reference
// image in parallel. Each image gets its own timeout and byte cap; a
// failing image is dropped, never aborting the check. Order of the
// surviving images follows the input.
func (c *Classifier) fetchImages(ctx context.Context, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}

	results := make([]string, len(urls))
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			dataURL, err := c.fetchOne(ctx, url)
			if err != nil {
				c.logger.Warn("reference image dropped",
					zap.String("url", url),
					zap.Error(err),
				)
				return
			}
			results[i] = dataURL
		}(i, url)
	}
	wg.Wait()

	out := make([]string, 0, len(urls))
	for _, dataURL := range results {
		if dataURL != "" {
			out = append(out, dataURL)
		}
	}
	return out
}

// fetchOne downloads one image, fits it inside the configured bounding
// box and returns it as a compact JPEG data URL.
func (c *Classifier) fetchOne(parentCtx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	// Read one byte past the cap to tell "exactly at cap" from "over".
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > c.cfg.MaxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", c.cfg.MaxImageBytes)
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode (%s): %w", sniffMediaType(raw), err)
	}

	start := time.Now()
	scaled := fitInBox(src, c.cfg.MaxImageDim)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("re-encode: %w", err)
	}

	c.logger.Debug("reference image prepared",
		zap.String("source_format", format),
		zap.Int("source_bytes", len(raw)),
		zap.Int("encoded_bytes", buf.Len()),
		zap.Duration("resize_duration", time.Since(start)),
	)

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fitInBox scales src down to fit inside a maxDim square, preserving
// aspect ratio. Images already inside the box pass through untouched.
func fitInBox(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// sniffMediaType detects the MIME type of an image from its magic
// bytes, for diagnostics.
func sniffMediaType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
