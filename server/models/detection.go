package models

import (
	"github.com/goccy/go-json"
)

type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// wireDetection accepts both the nested bbox form and the flat form where
// x,y is the centre of the box.
type wireDetection struct {
	Class      string   `json:"class"`
	Confidence float64  `json:"confidence"`
	BBox       *BBox    `json:"bbox"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
}

func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	d.Class = w.Class
	d.Confidence = w.Confidence

	switch {
	case w.BBox != nil:
		d.BBox = *w.BBox
	case w.X != nil && w.Y != nil:
		d.BBox = BBox{
			X:      *w.X - w.Width/2,
			Y:      *w.Y - w.Height/2,
			Width:  w.Width,
			Height: w.Height,
		}
	default:
		d.BBox = BBox{}
	}

	return nil
}

// ParsePredictions accepts a bare array of detections or an object holding
// the array under "predictions". Any other JSON shape yields no detections.
func ParsePredictions(body []byte) ([]Detection, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case []any:
		var detections []Detection
		if err := json.Unmarshal(body, &detections); err != nil {
			return nil, err
		}
		return detections, nil
	case map[string]any:
		if _, ok := v["predictions"].([]any); !ok {
			return []Detection{}, nil
		}
		var envelope struct {
			Predictions []Detection `json:"predictions"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		return envelope.Predictions, nil
	default:
		return []Detection{}, nil
	}
}
