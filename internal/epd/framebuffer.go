package epd

import (
	"image"
	"image/color"
)

// FrameBuffer is the off-screen image of the panel. It holds two bit planes
// of equal size back to back: the black plane, then the red plane. Each plane
// is row-major, MSB-first, with a row stride of ControllerWidth pixels:
//
//	byteIndex = (x + y*ControllerWidth) / 8
//	mask      = 0x80 >> (x & 7)
type FrameBuffer struct {
	geom Geometry
	buf  []byte
	half int
}

// NewFrameBuffer allocates a zeroed buffer for the geometry.
func NewFrameBuffer(g Geometry) (*FrameBuffer, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.BufferLength()
	return &FrameBuffer{
		geom: g,
		buf:  make([]byte, n),
		half: n / 2,
	}, nil
}

// Geometry returns the geometry the buffer was allocated for.
func (f *FrameBuffer) Geometry() Geometry { return f.geom }

// Len returns the total buffer length in bytes.
func (f *FrameBuffer) Len() int { return len(f.buf) }

// Bytes returns the whole buffer. Callers must not retain it across updates.
func (f *FrameBuffer) Bytes() []byte { return f.buf }

// BlackPlane returns the first half of the buffer.
func (f *FrameBuffer) BlackPlane() []byte { return f.buf[:f.half] }

// RedPlane returns the second half of the buffer.
func (f *FrameBuffer) RedPlane() []byte { return f.buf[f.half:] }

// Fill sets every pixel, including the columns beyond the visible width, to
// the classification of c.
func (f *FrameBuffer) Fill(c Color) {
	f.FillCode(Classify(c))
}

// FillCode sets every pixel to the given plane code.
func (f *FrameBuffer) FillCode(code PlaneCode) {
	black, red := code.planes()
	fillPlane(f.buf[:f.half], black)
	fillPlane(f.buf[f.half:], red)
}

func fillPlane(p []byte, set bool) {
	var v byte
	if set {
		v = 0xFF
	}
	for i := range p {
		p[i] = v
	}
}

// SetPixel writes the classification of c at (x, y). Coordinates outside the
// visible area are ignored.
func (f *FrameBuffer) SetPixel(x, y int, c Color) {
	f.SetCode(x, y, Classify(c))
}

// SetCode writes a plane code at (x, y). Coordinates outside the visible area
// are ignored.
func (f *FrameBuffer) SetCode(x, y int, code PlaneCode) {
	pos, mask, ok := f.locate(x, y)
	if !ok {
		return
	}
	black, red := code.planes()
	setBit(&f.buf[pos], mask, black)
	setBit(&f.buf[pos+f.half], mask, red)
}

// Code decodes the plane code at (x, y). Out-of-range reads report white.
func (f *FrameBuffer) Code(x, y int) PlaneCode {
	pos, mask, ok := f.locate(x, y)
	if !ok {
		return CodeWhite
	}
	var code PlaneCode
	if f.buf[pos]&mask != 0 {
		code |= 0b10
	}
	if f.buf[pos+f.half]&mask != 0 {
		code |= 0b01
	}
	return code
}

func (f *FrameBuffer) locate(x, y int) (pos int, mask byte, ok bool) {
	if x < 0 || y < 0 || x >= f.geom.VisibleWidth || y >= f.geom.Height {
		return 0, 0, false
	}
	pos = (x + y*f.geom.ControllerWidth) / 8
	mask = 0x80 >> (x & 7)
	return pos, mask, true
}

func setBit(b *byte, mask byte, on bool) {
	if on {
		*b |= mask
	} else {
		*b &^= mask
	}
}

// ColorModel implements image.Image.
func (f *FrameBuffer) ColorModel() color.Model { return ColorModel }

// Bounds implements image.Image. It covers the visible area only.
func (f *FrameBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.geom.VisibleWidth, f.geom.Height)
}

// At implements image.Image and returns the color the pixel shows on glass.
func (f *FrameBuffer) At(x, y int) color.Color {
	return f.Code(x, y).Visual()
}

// Set implements draw.Image. Colors that are not a Color are mapped with
// FromVisual first.
func (f *FrameBuffer) Set(x, y int, c color.Color) {
	f.SetPixel(x, y, ColorModel.Convert(c).(Color))
}
