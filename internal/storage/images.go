package storage

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
)

var placeholderColors = map[string]color.RGBA{
	ImageCharacter: {R: 0x5b, G: 0x4b, B: 0x8a, A: 0xff},
	ImageShop:      {R: 0x8a, G: 0x6d, B: 0x3b, A: 0xff},
	ImageScene:     {R: 0x2f, G: 0x5d, B: 0x50, A: 0xff},
}

var placeholders = sync.OnceValue(func() map[string]string {
	out := make(map[string]string, len(placeholderColors)+1)
	for cat, c := range placeholderColors {
		out[cat] = encodePlaceholder(c)
	}
	out[""] = encodePlaceholder(color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff})
	return out
})

// encodePlaceholder draws a 64x64 tile with a lighter frame.
func encodePlaceholder(c color.RGBA) string {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	frame := color.RGBA{R: c.R/2 + 0x7f, G: c.G/2 + 0x7f, B: c.B/2 + 0x7f, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x < 4 || y < 4 || x >= size-4 || y >= size-4 {
				img.Set(x, y, frame)
			} else {
				img.Set(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DefaultImage returns the bundled placeholder for a category as base64.
func DefaultImage(category string) string {
	p := placeholders()
	if s, ok := p[category]; ok {
		return s
	}
	return p[""]
}
