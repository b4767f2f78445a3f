package placeholder

import (
	"bytes"
	"image"
	"image/png"
)

// transparentPNG encodes a fully transparent image of the exact
// requested pixel dimensions. NRGBA zero value is already transparent
// black, so no per-pixel fill is needed.
func transparentPNG(width, height int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
