package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/san-kum/damage-watch/server/models"
)

func det(class string, confidence float64) models.Detection {
	return models.Detection{Class: class, Confidence: confidence}
}

func TestIsInjuryClass(t *testing.T) {
	assert.True(t, IsInjuryClass("damage"))
	assert.True(t, IsInjuryClass("Hull-DAMAGE"))
	assert.True(t, IsInjuryClass("Injury"))
	assert.True(t, IsInjuryClass("open_wound"))
	assert.False(t, IsInjuryClass("person"))
	assert.False(t, IsInjuryClass(""))
}

func TestDamageLevel(t *testing.T) {
	tests := []struct {
		name       string
		detections []models.Detection
		expected   float64
	}{
		{name: "no detections", detections: nil, expected: 0},
		{name: "no injury classes", detections: []models.Detection{det("person", 0.99), det("car", 0.8)}, expected: 0},
		{name: "single damage", detections: []models.Detection{det("damage", 0.42)}, expected: 42},
		{name: "mean over injury classes only", detections: []models.Detection{det("damage", 0.9), det("person", 0.1), det("Wound", 0.5)}, expected: 70},
		{name: "confidence above one is clamped", detections: []models.Detection{det("injury", 1.7)}, expected: 100},
		{name: "negative confidence is clamped", detections: []models.Detection{det("injury", -0.3), det("damage", 0.6)}, expected: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DamageLevel(tt.detections)
			assert.InDelta(t, tt.expected, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestDamageLevel_ThresholdBoundary(t *testing.T) {
	level := DamageLevel([]models.Detection{det("damage", 0.9), det("damage", 0.5)})

	assert.Equal(t, 70.0, level)
	assert.False(t, ExceedsThreshold(level, DefaultDamageThreshold), "exactly 70 must not alert")
	assert.True(t, ExceedsThreshold(70.01, DefaultDamageThreshold))
}

func TestDamageAlertMessage(t *testing.T) {
	assert.Equal(t, "High damage detected! Level: 85.3%", DamageAlertMessage(85.26))
}
