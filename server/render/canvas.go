package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var background = color.RGBA{A: 255}

// Canvas is a 2D drawing surface with the handful of primitives the overlay
// needs. It is not safe for concurrent use.
type Canvas struct {
	img  *image.RGBA
	face font.Face
}

func NewCanvas(width, height int) *Canvas {
	c := &Canvas{
		img:  image.NewRGBA(image.Rect(0, 0, width, height)),
		face: basicfont.Face7x13,
	}
	c.Clear()
	return c
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

func (c *Canvas) Image() *image.RGBA {
	return c.img
}

func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
}

func (c *Canvas) DrawImage(src image.Image, x, y int) {
	b := src.Bounds()
	dst := image.Rect(x, y, x+b.Dx(), y+b.Dy())
	draw.Draw(c.img, dst, src, b.Min, draw.Src)
}

// StrokeRect strokes the outline of the rectangle with the line centred on
// its edges.
func (c *Canvas) StrokeRect(x, y, w, h float64, col color.Color, lineWidth int) {
	if lineWidth <= 0 {
		return
	}
	r := rectOf(x, y, w, h)
	lo := lineWidth / 2
	hi := lineWidth - lo

	outer := image.Rect(r.Min.X-lo, r.Min.Y-lo, r.Max.X+hi, r.Max.Y+hi)
	inner := image.Rect(r.Min.X+hi, r.Min.Y+hi, r.Max.X-lo, r.Max.Y-lo)
	if inner.Empty() {
		c.fill(outer, col)
		return
	}

	c.fill(image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y), col)
	c.fill(image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y), col)
	c.fill(image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y), col)
	c.fill(image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y), col)
}

// FillRect blends col over the rectangle, honouring its alpha.
func (c *Canvas) FillRect(x, y, w, h float64, col color.Color) {
	c.fill(rectOf(x, y, w, h), col)
}

func (c *Canvas) MeasureText(text string) int {
	return font.MeasureString(c.face, text).Ceil()
}

// FillText draws text with its baseline starting at (x, y).
func (c *Canvas) FillText(text string, x, y float64, col color.Color) {
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}

func (c *Canvas) JPEG(quality int) ([]byte, error) {
	return EncodeJPEG(c.img, quality)
}

func (c *Canvas) fill(r image.Rectangle, col color.Color) {
	r = r.Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

func rectOf(x, y, w, h float64) image.Rectangle {
	x0 := int(math.Round(x))
	y0 := int(math.Round(y))
	return image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
}

// Snapshot scales frame onto a width×height image, the geometry detections
// are reported in.
func Snapshot(frame image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	src := frame.Bounds()
	if src.Dx() == width && src.Dy() == height {
		draw.Draw(dst, dst.Bounds(), frame, src.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, src, draw.Src, nil)
	return dst
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
