package alert

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// DefaultMessage is the alert text when no critical label is in view.
const DefaultMessage = "No threats detected."

// CriticalLabels are the detector labels that raise an alert.
var CriticalLabels = []string{"gun", "weapon", "violence"}

// Classify returns the severity of a detector label. Matching is exact.
func Classify(label string) types.Severity {
	if lo.Contains(CriticalLabels, label) {
		return types.SeverityCritical
	}
	return types.SeverityNonCritical
}

// Message formats the alert text for a critical label, e.g. "Gun detected!".
func Message(label string) string {
	return capitalize(label) + " detected!"
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// ClassifyAll attaches a severity to every detection, keeping order.
func ClassifyAll(detections []types.Detection) []types.ClassifiedDetection {
	return lo.Map(detections, func(d types.Detection, _ int) types.ClassifiedDetection {
		return types.ClassifiedDetection{Detection: d, Severity: Classify(d.Label)}
	})
}
