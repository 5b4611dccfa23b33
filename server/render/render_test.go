package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/damage-watch/server/models"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDetectionColor(t *testing.T) {
	assert.Equal(t, color.RGBA{G: 255, A: 255}, DetectionColor(models.Detection{Class: "person", Confidence: 0.9}))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, DetectionColor(models.Detection{Class: "Damage", Confidence: 0}))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, DetectionColor(models.Detection{Class: "roof_damage", Confidence: 1}))

	mid := DetectionColor(models.Detection{Class: "damage", Confidence: 0.5})
	assert.Equal(t, uint8(128), mid.R)
	assert.Equal(t, uint8(128), mid.G)
}

func TestStrokeWidthAndLabel(t *testing.T) {
	assert.Equal(t, 3, StrokeWidth(models.Detection{Class: "DAMAGE"}))
	assert.Equal(t, 2, StrokeWidth(models.Detection{Class: "wound"}))
	assert.Equal(t, "dent 87%", Label(models.Detection{Class: "dent", Confidence: 0.866}))
}

func TestCanvas_StrokeRect(t *testing.T) {
	c := NewCanvas(64, 48)
	red := color.RGBA{R: 255, A: 255}

	c.StrokeRect(10, 10, 20, 10, red, 2)

	assert.Equal(t, red, c.Image().RGBAAt(9, 15), "left edge, outer half")
	assert.Equal(t, red, c.Image().RGBAAt(10, 15), "left edge, inner half")
	assert.Equal(t, red, c.Image().RGBAAt(20, 9), "top edge")
	assert.Equal(t, background, c.Image().RGBAAt(20, 15), "interior untouched")
	assert.Equal(t, background, c.Image().RGBAAt(5, 5), "outside untouched")
}

func TestCanvas_FillRectBlends(t *testing.T) {
	c := NewCanvas(10, 10)
	c.DrawImage(solid(10, 10, color.RGBA{R: 200, G: 200, B: 200, A: 255}), 0, 0)

	c.FillRect(0, 0, 5, 5, tagColor)

	px := c.Image().RGBAAt(2, 2)
	assert.Less(t, px.R, uint8(200))
	assert.Greater(t, px.R, uint8(0))
	assert.Equal(t, uint8(200), c.Image().RGBAAt(7, 7).R)
}

func TestCanvas_ClippedDrawingDoesNotPanic(t *testing.T) {
	c := NewCanvas(20, 20)
	assert.NotPanics(t, func() {
		c.StrokeRect(-50, -50, 500, 500, plainColor, 3)
		c.FillRect(15, 15, 100, 100, tagColor)
		c.FillText("far away", 300, 300, plainColor)
	})
}

func TestDrawDetections(t *testing.T) {
	c := NewCanvas(DefaultWidth, DefaultHeight)
	grey := color.RGBA{R: 90, G: 90, B: 90, A: 255}
	snapshot := solid(DefaultWidth, DefaultHeight, grey)

	detections := []models.Detection{
		{Class: "person", Confidence: 0.8, BBox: models.BBox{X: 100, Y: 100, Width: 50, Height: 40}},
		{Class: "damage", Confidence: 1, BBox: models.BBox{X: 300, Y: 200, Width: 60, Height: 60}},
	}
	DrawDetections(c, snapshot, detections)

	img := c.Image()
	assert.Equal(t, plainColor, img.RGBAAt(100, 120), "person box edge")
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(300, 230), "damage box edge")
	assert.Equal(t, grey, img.RGBAAt(125, 120), "snapshot inside box")
	assert.Equal(t, grey, img.RGBAAt(600, 450), "snapshot elsewhere")

	tag := img.RGBAAt(101, 80)
	assert.Less(t, tag.R, grey.R, "label tag darkens the snapshot")
}

func TestSnapshotScalesToCanvasGeometry(t *testing.T) {
	frame := solid(1280, 720, color.RGBA{B: 255, A: 255})

	got := Snapshot(frame, DefaultWidth, DefaultHeight)

	require.Equal(t, image.Rect(0, 0, DefaultWidth, DefaultHeight), got.Bounds())
	assert.Equal(t, uint8(255), got.RGBAAt(320, 240).B)
}

func TestDataURLRoundTrip(t *testing.T) {
	data, err := EncodeJPEG(solid(8, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255}), 80)
	require.NoError(t, err)

	url := DataURL(data)
	assert.Contains(t, url, "data:image/jpeg;base64,")

	img, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	_, err := DecodeDataURL("not a data url")
	assert.ErrorIs(t, err, ErrInvalidDataURL)

	_, err = DecodeDataURL("data:image/jpeg;base64,!!!")
	assert.Error(t, err)

	_, err = DecodeDataURL("data:image/jpeg;base64,aGVsbG8=")
	assert.Error(t, err)
}

func pngDataURL(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeDataURL_RejectsOversizedFrame(t *testing.T) {
	// mostly zero pixels compress to a tiny payload
	url := pngDataURL(t, image.NewGray(image.Rect(0, 0, 12000, 1500)))
	require.Less(t, len(url), 1<<20)

	img, err := DecodeDataURL(url)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Nil(t, img)
}

func TestDecodeDataURL_AcceptsWideFrame(t *testing.T) {
	img, err := DecodeDataURL(pngDataURL(t, image.NewGray(image.Rect(0, 0, 4096, 16))))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4096, 16), img.Bounds())
}
