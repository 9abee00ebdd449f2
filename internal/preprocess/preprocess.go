/**
 * Image Preprocessor for the invoice OCR worker
 *
 * Normalizes a user-supplied receipt photo into a higher-contrast, sharpened,
 * size-bounded bitmap before text recognition. All transformations preserve
 * aspect ratio and the output is re-encoded losslessly (PNG); a lossy
 * re-encode measurably degrades recognition on thermal-paper receipts.
 */

package preprocess

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	ocrerrors "github.com/faturalab/ocr-worker/internal/errors"
)

// Options controls the preprocessing pipeline. Zero values are replaced by the
// defaults below, so Options{} is usable directly.
type Options struct {
	MinDimension      int     // upscale when both dimensions are below this
	MaxDimension      int     // downscale when either dimension exceeds this
	ContrastFactor    float64 // per-channel multiplier
	BrightnessOffset  float64 // per-channel additive offset
	BinarizeThreshold float64 // luminance cutoff for the binarization blend
	BinarizeMix       float64 // blend weight of the binarized value
}

func (o Options) withDefaults() Options {
	if o.MinDimension == 0 {
		o.MinDimension = 1200
	}
	if o.MaxDimension == 0 {
		o.MaxDimension = 3000
	}
	if o.ContrastFactor == 0 {
		o.ContrastFactor = 1.7
	}
	if o.BrightnessOffset == 0 {
		o.BrightnessOffset = 20
	}
	if o.BinarizeThreshold == 0 {
		o.BinarizeThreshold = 135
	}
	if o.BinarizeMix == 0 {
		o.BinarizeMix = 0.4
	}
	return o
}

// Preprocessor enhances receipt images for OCR
type Preprocessor struct {
	opts Options
}

// NewPreprocessor creates a preprocessor with the given options.
func NewPreprocessor(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts.withDefaults()}
}

// Process decodes the raw upload, applies the enhancement pipeline and returns
// the result losslessly encoded as PNG. A payload that cannot be decoded as an
// image fails with an IMAGE_DECODE_FAILED error.
func (p *Preprocessor) Process(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ocrerrors.NewImageDecodeError("", err)
	}

	img := p.resizeBounded(src)
	img = p.adjustContrastBrightness(img)
	img = sharpen(img)
	img = p.binarizeBlend(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}

	return buf.Bytes(), nil
}

// resizeBounded keeps the longer edge inside [MinDimension, MaxDimension]
// without changing the aspect ratio. Small images are upscaled only when BOTH
// dimensions fall below the minimum; large images are downscaled when EITHER
// exceeds the maximum.
func (p *Preprocessor) resizeBounded(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	longer := w
	if h > longer {
		longer = h
	}

	switch {
	case w < p.opts.MinDimension && h < p.opts.MinDimension:
		if w >= h {
			return imaging.Resize(src, p.opts.MinDimension, 0, imaging.Lanczos)
		}
		return imaging.Resize(src, 0, p.opts.MinDimension, imaging.Lanczos)
	case longer > p.opts.MaxDimension:
		if w >= h {
			return imaging.Resize(src, p.opts.MaxDimension, 0, imaging.Lanczos)
		}
		return imaging.Resize(src, 0, p.opts.MaxDimension, imaging.Lanczos)
	default:
		return imaging.Clone(src)
	}
}

// adjustContrastBrightness applies channel = clamp(channel*factor + offset).
func (p *Preprocessor) adjustContrastBrightness(img *image.NRGBA) *image.NRGBA {
	factor := p.opts.ContrastFactor
	offset := p.opts.BrightnessOffset

	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = clampByte(float64(img.Pix[i])*factor + offset)
		img.Pix[i+1] = clampByte(float64(img.Pix[i+1])*factor + offset)
		img.Pix[i+2] = clampByte(float64(img.Pix[i+2])*factor + offset)
		// alpha untouched
	}
	return img
}

// sharpen applies a discrete Laplacian sharpening kernel per channel:
//
//	 0 -1  0
//	-1  5 -1
//	 0 -1  0
//
// The 1-pixel border is left as-is so the kernel never reads outside the image.
func sharpen(img *image.NRGBA) *image.NRGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return img
	}

	src := make([]uint8, len(img.Pix))
	copy(src, img.Pix)
	stride := img.Stride

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			idx := y*stride + x*4
			for c := 0; c < 3; c++ {
				center := int(src[idx+c])
				sum := 5*center -
					int(src[idx-stride+c]) -
					int(src[idx+stride+c]) -
					int(src[idx-4+c]) -
					int(src[idx+4+c])
				img.Pix[idx+c] = clampByte(float64(sum))
			}
		}
	}
	return img
}

// binarizeBlend pushes each pixel toward pure black or white based on its
// luminance, but blends with the original value instead of replacing it.
// A hard threshold destroys anti-aliased thin strokes; the blend keeps them
// while still boosting edge contrast for the recognizer.
func (p *Preprocessor) binarizeBlend(img *image.NRGBA) *image.NRGBA {
	threshold := p.opts.BinarizeThreshold
	mix := p.opts.BinarizeMix

	for i := 0; i < len(img.Pix); i += 4 {
		r := float64(img.Pix[i])
		g := float64(img.Pix[i+1])
		b := float64(img.Pix[i+2])

		luminance := (r + g + b) / 3

		var bw float64
		if luminance > threshold {
			bw = 255
		}

		img.Pix[i] = clampByte(r*(1-mix) + bw*mix)
		img.Pix[i+1] = clampByte(g*(1-mix) + bw*mix)
		img.Pix[i+2] = clampByte(b*(1-mix) + bw*mix)
	}
	return img
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
