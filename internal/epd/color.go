package epd

import "image/color"

// Color is the abstract drawing color handed to the framebuffer. It carries a
// separate white channel next to RGB, as used by the display component layer
// that drives this panel.
type Color struct {
	R, G, B, W uint8
}

// Well-known colors. ColorOn is the "ink" color of the drawing layer and is
// rendered black; ColorOff is the background and is rendered white.
var (
	ColorOn  = Color{R: 255, G: 255, B: 255, W: 255}
	ColorOff = Color{}
	ColorRed = Color{R: 255}
)

// PlaneCode is the 2-bit code of a pixel: bit 1 lives in the black plane,
// bit 0 in the red plane.
type PlaneCode uint8

const (
	CodeBlack PlaneCode = 0b00
	// CodeOffWhite (01) is representable by the controller but never
	// produced by Classify.
	CodeOffWhite PlaneCode = 0b01
	CodeWhite    PlaneCode = 0b10
	CodeRed      PlaneCode = 0b11
)

func (p PlaneCode) String() string {
	switch p {
	case CodeBlack:
		return "black"
	case CodeOffWhite:
		return "off-white"
	case CodeWhite:
		return "white"
	case CodeRed:
		return "red"
	default:
		return "invalid"
	}
}

// planes returns the black-plane and red-plane bits of the code.
func (p PlaneCode) planes() (black, red bool) {
	return p&0b10 != 0, p&0b01 != 0
}

// Classify maps a Color to its plane code. The first matching rule wins:
//   - all four channels 255 → black
//   - red > 0 with green and blue 0 → red
//   - anything else → white
func Classify(c Color) PlaneCode {
	if c.W == 255 && c.R == 255 && c.G == 255 && c.B == 255 {
		return CodeBlack
	}
	if c.R > 0 && c.G == 0 && c.B == 0 {
		return CodeRed
	}
	return CodeWhite
}

// RGBA implements color.Color with the color the pixel shows on glass, so a
// Color can be used with image/draw.
func (c Color) RGBA() (r, g, b, a uint32) {
	return codeColors[Classify(c)].RGBA()
}

var codeColors = map[PlaneCode]color.NRGBA{
	CodeBlack:    {A: 0xFF},
	CodeOffWhite: {R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF},
	CodeWhite:    {R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
	CodeRed:      {R: 0xFF, A: 0xFF},
}

// Visual returns the on-glass color of a plane code.
func (p PlaneCode) Visual() color.NRGBA {
	return codeColors[p&0b11]
}

// ColorModel converts arbitrary colors into one of ColorOn, ColorOff and
// ColorRed. Colors that are already a Color pass through untouched.
var ColorModel = color.ModelFunc(toPanelColor)

func toPanelColor(c color.Color) color.Color {
	if pc, ok := c.(Color); ok {
		return pc
	}
	return FromVisual(c)
}

// FromVisual decides whether an on-screen color should become black ink, red
// ink or background on the tri-color panel.
//
// Heuristic:
//   - alpha < 128 → background
//   - luma Y = 0.299R + 0.587G + 0.114B below 64 → black
//   - R > 128 and R - max(G, B) > 32 → red
//   - everything else → background
func FromVisual(c color.Color) Color {
	r16, g16, b16, a16 := c.RGBA()
	if a16>>8 < 128 {
		return ColorOff
	}
	// Un-premultiply so that translucent pixels classify by hue.
	r := float64(r16) * 0xFFFF / float64(a16) / 257
	g := float64(g16) * 0xFFFF / float64(a16) / 257
	b := float64(b16) * 0xFFFF / float64(a16) / 257

	y := 0.299*r + 0.587*g + 0.114*b
	maxGB := g
	if b > maxGB {
		maxGB = b
	}

	if y < 64 {
		return ColorOn
	}
	if r > 128 && r-maxGB > 32 {
		return ColorRed
	}
	return ColorOff
}
