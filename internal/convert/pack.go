package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"inkyepd/internal/epd"
)

// DrawImage paints img into the framebuffer, anchored at the top-left of the
// visible area.
//
// Behavior:
//   - Images narrower or shorter than the panel leave the rest untouched.
//   - Images taller than the panel are center-cropped vertically; wider ones
//     are clipped on the right.
//   - Each pixel goes through epd.FromVisual: transparent → white, dark →
//     black, strongly red → red, everything else → white.
func DrawImage(fb *epd.FrameBuffer, img image.Image) {
	g := fb.Geometry()
	b := img.Bounds()
	w := min(b.Dx(), g.VisibleWidth)
	h := min(b.Dy(), g.Height)

	startY := b.Min.Y
	if b.Dy() > g.Height {
		startY += (b.Dy() - g.Height) / 2
	}

	// Fast path for NRGBA, the format the page capture decodes to.
	if n, ok := img.(*image.NRGBA); ok {
		for py := 0; py < h; py++ {
			row := (startY + py - b.Min.Y) * n.Stride
			for px := 0; px < w; px++ {
				i := row + px*4
				c := color.NRGBA{R: n.Pix[i], G: n.Pix[i+1], B: n.Pix[i+2], A: n.Pix[i+3]}
				fb.SetPixel(px, py, epd.FromVisual(c))
			}
		}
		return
	}

	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			fb.SetPixel(px, py, epd.FromVisual(img.At(b.Min.X+px, startY+py)))
		}
	}
}

// Preview decodes the framebuffer planes into an image of the visible area
// showing what the panel will display.
func Preview(fb *epd.FrameBuffer) *image.NRGBA {
	g := fb.Geometry()
	img := image.NewNRGBA(image.Rect(0, 0, g.VisibleWidth, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.VisibleWidth; x++ {
			img.SetNRGBA(x, y, fb.Code(x, y).Visual())
		}
	}
	return img
}

// WritePreviewPNG encodes Preview(fb) as PNG.
func WritePreviewPNG(w io.Writer, fb *epd.FrameBuffer) error {
	if err := png.Encode(w, Preview(fb)); err != nil {
		return fmt.Errorf("convert: png encode: %w", err)
	}
	return nil
}

// Dump writes black.bin, red.bin and preview.png into dir for debugging.
func Dump(dir string, fb *epd.FrameBuffer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("convert: dump dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "black.bin"), fb.BlackPlane(), 0o644); err != nil {
		return fmt.Errorf("convert: write black plane: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "red.bin"), fb.RedPlane(), 0o644); err != nil {
		return fmt.Errorf("convert: write red plane: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "preview.png"))
	if err != nil {
		return fmt.Errorf("convert: create preview: %w", err)
	}
	if err := WritePreviewPNG(f, fb); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
