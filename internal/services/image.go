package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// ValidateImage checks that data holds a decodable PNG or JPEG.
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return ErrInvalidImage
	}
	return nil
}
