package trace

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mj1618/droid-order/internal/model"
)

var (
	boxColor     = color.RGBA{R: 255, G: 0, B: 0, A: 160}
	textColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	outlineColor = color.RGBA{R: 0, G: 0, B: 0, A: 200}
)

// Annotate draws each element's bounds and "[index]" label on a copy of
// img. Element bounds are device pixels; screenW and screenH give the
// device size so downscaled screenshots line up. Zero sizes mean the image
// is at device resolution.
func Annotate(img image.Image, elements []model.Element, screenW, screenH int) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)

	scaleX, scaleY := 1.0, 1.0
	if screenW > 0 {
		scaleX = float64(b.Dx()) / float64(screenW)
	}
	if screenH > 0 {
		scaleY = float64(b.Dy()) / float64(screenH)
	}
	for _, el := range elements {
		x1 := int(float64(el.Bounds[0]) * scaleX)
		y1 := int(float64(el.Bounds[1]) * scaleY)
		x2 := int(float64(el.Bounds[2]) * scaleX)
		y2 := int(float64(el.Bounds[3]) * scaleY)
		drawRectangle(rgba, x1, y1, x2, y2, boxColor)
		drawLabel(rgba, fmt.Sprintf("[%d]", el.Index), (x1+x2)/2, (y1+y2)/2)
	}
	return rgba
}

// drawRectangle draws the outline of [x1,x2)x[y1,y2), clamped to the image.
func drawRectangle(img *image.RGBA, x1, y1, x2, y2 int, c color.Color) {
	r := image.Rect(x1, y1, x2, y2).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

// drawLabel centers text on (x, y) with a one-pixel outline. basicfont
// glyphs are 7x13.
func drawLabel(img *image.RGBA, text string, x, y int) {
	ox := x - len(text)*7/2
	oy := y + 13/2
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			drawString(img, text, ox+dx, oy+dy, outlineColor)
		}
	}
	drawString(img, text, ox, oy, textColor)
}

func drawString(img *image.RGBA, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
