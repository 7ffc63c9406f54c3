package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"strconv"
	"strings"

	"github.com/golang/freetype/truetype"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	maxTitleSize = 48.0
	minTitleSize = 14.0
)

// TitleFrame draws the still background used when there are no scene visuals
type TitleFrame struct {
	Width      int
	Height     int
	Background color.Color
	Foreground color.Color
	Font       string // path to a TrueType font
}

// Render draws title centered on the background
func (t TitleFrame) Render(title string) (image.Image, error) {
	m := t.solid()

	b, err := os.ReadFile(t.Font)
	if err != nil {
		return nil, fmt.Errorf("could not open font: %v", err)
	}
	f, err := truetype.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("could not parse font: %v", err)
	}

	face, width := fitFontSize(f, int(0.8*float64(t.Width)), title)
	defer face.Close()

	metrics := face.Metrics()
	baseline := (fixed.I(t.Height) + metrics.Ascent - metrics.Descent) / 2
	d := &font.Drawer{
		Dst:  m,
		Src:  image.NewUniform(t.Foreground),
		Face: face,
		Dot:  fixed.Point26_6{X: (fixed.I(t.Width) - width) / 2, Y: baseline},
	}
	d.DrawString(title)
	return m, nil
}

func (t TitleFrame) solid() *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	draw.Draw(m, m.Bounds(), image.NewUniform(t.Background), image.Point{}, draw.Src)
	return m
}

// WriteFile renders the title to a PNG at path, falling back to a plain
// background frame when the title cannot be drawn.
func (t TitleFrame) WriteFile(path, title string) error {
	m, err := t.Render(title)
	if err != nil {
		log.Warn().Err(err).Msg("[render] ⚠️  title text unavailable, using plain background")
		m = t.solid()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fitFontSize finds the largest size at which text fits width, and the text width at that size
func fitFontSize(f *truetype.Font, width int, text string) (font.Face, fixed.Int26_6) {
	fixw := fixed.I(width)
	var face font.Face
	var cur fixed.Int26_6
	for size := maxTitleSize; size >= minTitleSize; size-- {
		if face != nil {
			face.Close()
		}
		face = truetype.NewFace(f, &truetype.Options{Size: size, Hinting: font.HintingNone, DPI: 72})
		cur = (&font.Drawer{Face: face}).MeasureString(text)
		if cur <= fixw {
			break
		}
	}
	return face, cur
}

// ParseColor reads ffmpeg style hex colors: 0xRRGGBB, #RRGGBB or RRGGBB
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "0x"), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
