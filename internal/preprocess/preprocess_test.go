/**
 * Preprocessing pipeline tests on synthetic images
 */

package preprocess

import (
	"bytes"
	"errors"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	ocrerrors "github.com/faturalab/ocr-worker/internal/errors"
)

// encodePNG renders a flat gray test image of the given size.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 180, G: 180, B: 180, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable image: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestProcessUpscalesSmallImages(t *testing.T) {
	p := NewPreprocessor(Options{})

	out, err := p.Process(encodePNG(t, 600, 400))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	w, h := decodeSize(t, out)
	if w != 1200 {
		t.Errorf("width = %d, want longer edge upscaled to 1200", w)
	}
	if h != 800 {
		t.Errorf("height = %d, want 800 (aspect ratio preserved)", h)
	}
}

func TestProcessDownscalesLargeImages(t *testing.T) {
	p := NewPreprocessor(Options{})

	out, err := p.Process(encodePNG(t, 2000, 4500))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	w, h := decodeSize(t, out)
	if h != 3000 {
		t.Errorf("height = %d, want longer edge downscaled to 3000", h)
	}
	wantW := 2000 * 3000 / 4500
	if w < wantW-1 || w > wantW+1 {
		t.Errorf("width = %d, want ~%d (aspect ratio preserved)", w, wantW)
	}
}

func TestProcessKeepsInRangeImages(t *testing.T) {
	p := NewPreprocessor(Options{})

	out, err := p.Process(encodePNG(t, 1500, 900))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if w, h := decodeSize(t, out); w != 1500 || h != 900 {
		t.Errorf("size = %dx%d, want unchanged 1500x900", w, h)
	}
}

func TestProcessNoUpscaleWhenOneDimensionLarge(t *testing.T) {
	// Only both-small images are upscaled; a narrow strip with one large
	// dimension stays as-is.
	p := NewPreprocessor(Options{})

	out, err := p.Process(encodePNG(t, 400, 2400))
	if err != nil {
		t.Fatal(err)
	}
	if w, h := decodeSize(t, out); w != 400 || h != 2400 {
		t.Errorf("size = %dx%d, want unchanged 400x2400", w, h)
	}
}

func TestProcessRejectsUndecodableInput(t *testing.T) {
	p := NewPreprocessor(Options{})

	_, err := p.Process([]byte("this is not an image"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, ocrerrors.ErrImageDecode) {
		t.Errorf("error = %v, want IMAGE_DECODE_FAILED", err)
	}
}

func TestBinarizeBlendPushesTowardExtremes(t *testing.T) {
	p := NewPreprocessor(Options{})

	img := imaging.New(4, 4, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	out := p.binarizeBlend(img)
	// Luminance 200 > threshold 135: bright pixels move toward white.
	if out.Pix[0] <= 200 {
		t.Errorf("bright pixel = %d, want > 200 after blend toward white", out.Pix[0])
	}

	dark := imaging.New(4, 4, color.NRGBA{R: 60, G: 60, B: 60, A: 255})
	out = p.binarizeBlend(dark)
	if out.Pix[0] >= 60 {
		t.Errorf("dark pixel = %d, want < 60 after blend toward black", out.Pix[0])
	}
}

func TestSharpenLeavesFlatRegionsAlone(t *testing.T) {
	img := imaging.New(5, 5, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	out := sharpen(img)
	// On a flat field the Laplacian sums to the center value.
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := out.NRGBAAt(x, y); c.R != 100 {
				t.Fatalf("pixel (%d,%d) = %d, want 100", x, y, c.R)
			}
		}
	}
}

func TestContrastBrightnessClamps(t *testing.T) {
	p := NewPreprocessor(Options{ContrastFactor: 2.0, BrightnessOffset: 25})

	img := imaging.New(2, 2, color.NRGBA{R: 240, G: 10, B: 128, A: 255})
	out := p.adjustContrastBrightness(img)

	if out.Pix[0] != 255 {
		t.Errorf("R = %d, want clamped 255", out.Pix[0])
	}
	if out.Pix[1] != 45 {
		t.Errorf("G = %d, want 10*2+25 = 45", out.Pix[1])
	}
	if out.Pix[3] != 255 {
		t.Errorf("alpha = %d, must stay untouched", out.Pix[3])
	}
}

func TestProcessOutputIsPNG(t *testing.T) {
	p := NewPreprocessor(Options{})

	out, err := p.Process(encodePNG(t, 1300, 1300))
	if err != nil {
		t.Fatal(err)
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	if !bytes.HasPrefix(out, pngMagic) {
		t.Error("output must be PNG-encoded")
	}
}
