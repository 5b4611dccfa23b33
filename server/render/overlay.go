package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/san-kum/damage-watch/server/models"
)

const (
	tagHeight    = 25
	tagPadding   = 8
	textInset    = 4
	textBaseline = 7
)

var (
	plainColor = color.RGBA{G: 255, A: 255}
	tagColor   = color.RGBA{A: 179}
)

func isDamage(d models.Detection) bool {
	return strings.Contains(strings.ToLower(d.Class), "damage")
}

// DetectionColor is fixed green for ordinary classes. Damage classes shift
// from green towards red as confidence grows.
func DetectionColor(d models.Detection) color.RGBA {
	if !isDamage(d) {
		return plainColor
	}
	c := math.Max(0, math.Min(1, d.Confidence))
	return color.RGBA{
		R: uint8(math.Round(255 * c)),
		G: uint8(math.Round(255 * (1 - c))),
		A: 255,
	}
}

func StrokeWidth(d models.Detection) int {
	if isDamage(d) {
		return 3
	}
	return 2
}

func Label(d models.Detection) string {
	return fmt.Sprintf("%s %d%%", d.Class, int(math.Round(d.Confidence*100)))
}

// DrawDetections repaints the canvas from scratch: the snapshot first, then
// a box and label tag per detection.
func DrawDetections(c *Canvas, snapshot image.Image, detections []models.Detection) {
	c.Clear()
	if snapshot != nil {
		c.DrawImage(snapshot, 0, 0)
	}

	for _, d := range detections {
		col := DetectionColor(d)
		box := d.BBox
		c.StrokeRect(box.X, box.Y, box.Width, box.Height, col, StrokeWidth(d))

		label := Label(d)
		width := c.MeasureText(label)
		c.FillRect(box.X, box.Y-tagHeight, float64(width+tagPadding), tagHeight, tagColor)
		c.FillText(label, box.X+textInset, box.Y-textBaseline, col)
	}
}
