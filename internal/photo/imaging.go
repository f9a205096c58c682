package photo

import (
	"bytes"
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ImagingNormalizer flattens with the pure-Go imaging library. It carries no
// external dependency and is always available.
type ImagingNormalizer struct{}

func (n *ImagingNormalizer) Name() string      { return "imaging" }
func (n *ImagingNormalizer) IsAvailable() bool { return true }

func (n *ImagingNormalizer) Normalize(ctx context.Context, src []byte, quality int) (Normalized, error) {
	if err := ctx.Err(); err != nil {
		return Normalized{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return Normalized{}, &DecodeError{Tool: n.Name(), Err: err}
	}

	// Composite onto opaque white so transparency in the source ends up as
	// a plain background instead of black.
	b := img.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), color.White)
	dst = imaging.Overlay(dst, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Normalized{}, err
	}
	return Normalized{JPEG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
