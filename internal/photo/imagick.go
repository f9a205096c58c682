package photo

import (
	"context"
	"fmt"
	"os/exec"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// ImagickNormalizer flattens through the ImageMagick bindings. It covers
// formats the pure-Go decoder cannot read, HEIC in particular, when the
// system ImageMagick was built with the right delegates.
type ImagickNormalizer struct{}

func (n *ImagickNormalizer) Name() string { return "imagemagick" }

func (n *ImagickNormalizer) IsAvailable() bool {
	_, err := exec.LookPath("convert")
	return err == nil
}

func (n *ImagickNormalizer) Normalize(ctx context.Context, src []byte, quality int) (Normalized, error) {
	if err := ctx.Err(); err != nil {
		return Normalized{}, err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImageBlob(src); err != nil {
		return Normalized{}, &DecodeError{Tool: n.Name(), Err: err}
	}

	bg := imagick.NewPixelWand()
	defer bg.Destroy()
	if ok := bg.SetColor("white"); !ok {
		return Normalized{}, fmt.Errorf("set background color")
	}
	if err := mw.SetImageBackgroundColor(bg); err != nil {
		return Normalized{}, err
	}

	flat := mw.MergeImageLayers(imagick.IMAGE_LAYER_FLATTEN)
	defer flat.Destroy()

	if err := flat.AutoOrientImage(); err != nil {
		return Normalized{}, err
	}
	if err := flat.SetImageFormat("JPEG"); err != nil {
		return Normalized{}, err
	}
	if err := flat.SetImageCompressionQuality(uint(quality)); err != nil {
		return Normalized{}, err
	}
	// Drop every profile and tag the source carried.
	if err := flat.StripImage(); err != nil {
		return Normalized{}, err
	}

	out := flat.GetImageBlob()
	if len(out) == 0 {
		return Normalized{}, fmt.Errorf("imagemagick produced no output")
	}
	return Normalized{
		JPEG:   out,
		Width:  int(flat.GetImageWidth()),
		Height: int(flat.GetImageHeight()),
	}, nil
}
