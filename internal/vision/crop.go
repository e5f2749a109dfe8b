package vision

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"

	"plategate/internal/model"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropRegion cuts a plate-region candidate out of the frame. The box is
// clamped to the image bounds; regions smaller than the minimum crop size are
// discarded.
func cropRegion(img image.Image, box model.BoundingBox, minW, minH int) (image.Image, bool) {
	r := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(img.Bounds())
	if r.Dx() < minW || r.Dy() < minH {
		return nil, false
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r), true
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, true
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
