package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredictions(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "bare array", body: `[{"class":"damage","confidence":0.9,"bbox":{"x":1,"y":2,"width":3,"height":4}}]`, want: 1},
		{name: "predictions envelope", body: `{"predictions":[{"class":"a","confidence":0.1},{"class":"b","confidence":0.2}]}`, want: 2},
		{name: "envelope without predictions", body: `{"message":"quota exceeded"}`, want: 0},
		{name: "predictions not an array", body: `{"predictions":"none"}`, want: 0},
		{name: "scalar", body: `42`, want: 0},
		{name: "null", body: `null`, want: 0},
		{name: "empty array", body: `[]`, want: 0},
		{name: "malformed", body: `{"predictions":[`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePredictions([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDetectionUnmarshal_NestedBBox(t *testing.T) {
	got, err := ParsePredictions([]byte(`[{"class":"Wound","confidence":0.75,"bbox":{"x":10,"y":20,"width":30,"height":40}}]`))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "Wound", got[0].Class)
	assert.Equal(t, 0.75, got[0].Confidence)
	assert.Equal(t, BBox{X: 10, Y: 20, Width: 30, Height: 40}, got[0].BBox)
}

func TestDetectionUnmarshal_FlatCentreBox(t *testing.T) {
	got, err := ParsePredictions([]byte(`{"predictions":[{"class":"dent","confidence":0.5,"x":100,"y":50,"width":40,"height":20}]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, BBox{X: 80, Y: 40, Width: 40, Height: 20}, got[0].BBox)
}
