package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// ErrInvalidImage is returned for a degenerate source buffer (zero width or height)
var ErrInvalidImage = errors.New("invalid image")

const (
	minQuality = 10
	maxQuality = 100
)

// Format selects the payload encoding
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// EncodedPayload is the compressed image sent to the analyzer. Never mutated after creation.
type EncodedPayload struct {
	Data     []byte
	MIMEType string
	Filename string
	Width    int
	Height   int
}

// Downscale shrinks raw so that its longest side is at most maxSide and encodes it as JPEG
func Downscale(raw *RawImage, maxSide, quality int) (EncodedPayload, error) {
	return DownscaleAs(raw, maxSide, quality, FormatJPEG)
}

// DownscaleAs is Downscale with an explicit output format. The pixel buffer in raw is
// released before returning.
func DownscaleAs(raw *RawImage, maxSide, quality int, format Format) (EncodedPayload, error) {
	w, h := raw.Width(), raw.Height()
	if w <= 0 || h <= 0 {
		return EncodedPayload{}, ErrInvalidImage
	}
	src := raw.Image
	raw.Image = nil

	quality = clampQuality(quality)
	dw, dh := TargetSize(w, h, maxSide)

	var img image.Image = src
	if dw != w || dh != h {
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	payload := EncodedPayload{Width: dw, Height: dh}
	switch format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if quality < 50 {
			enc.CompressionLevel = png.BestCompression
		}
		if err := enc.Encode(&buf, img); err != nil {
			return EncodedPayload{}, fmt.Errorf("encoding PNG: %w", err)
		}
		payload.MIMEType = "image/png"
		payload.Filename = "bill.png"
	case FormatJPEG, "":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return EncodedPayload{}, fmt.Errorf("encoding JPEG: %w", err)
		}
		payload.MIMEType = "image/jpeg"
		payload.Filename = "bill.jpg"
	default:
		return EncodedPayload{}, fmt.Errorf("unsupported payload format %q", format)
	}
	payload.Data = buf.Bytes()
	return payload, nil
}

// TargetSize returns the dimensions after fitting w x h inside maxSide, keeping aspect ratio.
// Images already within bounds are returned unchanged.
func TargetSize(w, h, maxSide int) (int, int) {
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return w, h
	}
	scale := float64(maxSide) / float64(longest)
	dw := int(math.Round(float64(w) * scale))
	dh := int(math.Round(float64(h) * scale))
	return max(dw, 1), max(dh, 1)
}

func clampQuality(q int) int {
	if q < minQuality {
		return minQuality
	}
	if q > maxQuality {
		return maxQuality
	}
	return q
}
