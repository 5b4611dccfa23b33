package analysis

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/san-kum/damage-watch/server/models"
)

const DefaultDamageThreshold = 70.0

var injuryKeywords = []string{"damage", "injury", "wound"}

func IsInjuryClass(class string) bool {
	lower := strings.ToLower(class)
	return lo.SomeBy(injuryKeywords, func(keyword string) bool {
		return strings.Contains(lower, keyword)
	})
}

// DamageLevel is the mean confidence, in percent, of the detections whose
// class names an injury. It is 0 when none do.
func DamageLevel(detections []models.Detection) float64 {
	injuries := lo.Filter(detections, func(d models.Detection, _ int) bool {
		return IsInjuryClass(d.Class)
	})
	if len(injuries) == 0 {
		return 0
	}

	total := lo.SumBy(injuries, func(d models.Detection) float64 {
		return lo.Clamp(d.Confidence, 0, 1) * 100
	})
	return total / float64(len(injuries))
}

func ExceedsThreshold(level, threshold float64) bool {
	return level > threshold
}

func DamageAlertMessage(level float64) string {
	return fmt.Sprintf("High damage detected! Level: %.1f%%", level)
}
