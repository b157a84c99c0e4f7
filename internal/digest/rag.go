package digest

import "time"

// Severity is the red/amber/green delivery health classification.
type Severity string

const (
	Red   Severity = "red"
	Amber Severity = "amber"
	Green Severity = "green"
)

// Signals are the three counts the classification is a pure function
// of. No other state feeds the decision.
type Signals struct {
	Overdue      int `json:"overdue"`
	CriticalSoon int `json:"criticalSoon"`
	Blockers     int `json:"blockers"`
}

// CountSignals derives the classifier inputs from a due-item sequence
// plus a separately loaded blocker count.
func CountSignals(items []Item, blockerCount int, startOfToday time.Time) Signals {
	s := Signals{Blockers: blockerCount}
	for _, it := range items {
		if it.DueAt != nil && it.DueAt.Before(startOfToday) {
			s.Overdue++
		}
		if it.Kind == KindMilestone {
			if critical, ok := it.Attributes["critical"].(bool); ok && critical {
				s.CriticalSoon++
			}
		}
	}
	return s
}

// Classify applies the fixed precedence: a single overdue item is red
// regardless of the other counts; amber needs a critical milestone due
// soon or at least one blocker; everything else is green.
func Classify(s Signals) Severity {
	switch {
	case s.Overdue > 0:
		return Red
	case s.CriticalSoon > 0 || s.Blockers > 0:
		return Amber
	default:
		return Green
	}
}
