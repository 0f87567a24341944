package audit

import (
	"strings"

	"github.com/org/authcore/pkg/models"
)

// DeriveSeverity grades an action by name: "delete" or "admin" is high,
// "create" or "edit" is medium, anything else is low. Matching is
// case-insensitive.
func DeriveSeverity(action string) models.Severity {
	a := strings.ToLower(action)
	switch {
	case strings.Contains(a, "delete"), strings.Contains(a, "admin"):
		return models.SeverityHigh
	case strings.Contains(a, "create"), strings.Contains(a, "edit"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

var severityRank = map[models.Severity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

func atLeast(s, floor models.Severity) models.Severity {
	if severityRank[s] < severityRank[floor] {
		return floor
	}
	return s
}
