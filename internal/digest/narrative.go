package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"helmsman/internal/dates"
)

// Facts are the classified signals the narrative is synthesized from.
// Headline and Narrative are deterministic, side-effect-free functions
// of this struct: identical facts always yield identical text.
type Facts struct {
	RAG        Severity
	Signals    Signals
	PeriodFrom time.Time
	PeriodTo   time.Time
	WindowDays int

	OverdueTitles []string
	BlockerTitles []string

	MilestonesDone []string
	WorkItemsDone  int
	ChangesClosed  int
	RAIDClosed     int

	Decisions []string

	// DueSoon holds the forward-looking items (overdue excluded).
	DueSoon []Item
}

var kindNouns = map[Kind][2]string{
	KindArtifact:  {"artifact", "artifacts"},
	KindMilestone: {"milestone", "milestones"},
	KindWorkItem:  {"work item", "work items"},
	KindRAID:      {"RAID entry", "RAID entries"},
	KindChange:    {"change request", "change requests"},
}

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

// Headline produces the one-line executive summary.
func Headline(f Facts) string {
	switch f.RAG {
	case Red:
		if f.Signals.Overdue == 1 {
			return "1 overdue item requires immediate action to protect delivery."
		}
		return fmt.Sprintf("%d overdue items require immediate action to protect delivery.", f.Signals.Overdue)
	case Amber:
		critical := f.Signals.CriticalSoon
		blockers := f.Signals.Blockers
		switch {
		case critical > 0 && blockers > 0:
			return fmt.Sprintf("%s due soon and %s need attention.",
				countNoun(critical, "critical-path milestone", "critical-path milestones"),
				countNoun(blockers, "active blocker", "active blockers"))
		case blockers > 0:
			if blockers == 1 {
				return "1 active blocker needs resolution to keep delivery on track."
			}
			return fmt.Sprintf("%d active blockers need resolution to keep delivery on track.", blockers)
		default:
			if critical == 1 {
				return "1 critical-path milestone is due soon and needs close tracking."
			}
			return fmt.Sprintf("%d critical-path milestones are due soon and need close tracking.", critical)
		}
	default:
		done := len(f.MilestonesDone) + f.WorkItemsDone
		if done == 0 {
			return "Delivery is on track with nothing requiring escalation."
		}
		var parts []string
		if n := len(f.MilestonesDone); n > 0 {
			parts = append(parts, countNoun(n, "milestone", "milestones"))
		}
		if f.WorkItemsDone > 0 {
			parts = append(parts, countNoun(f.WorkItemsDone, "work item", "work items"))
		}
		return fmt.Sprintf("Delivery is on track, with %s completed this period.", joinAnd(parts))
	}
}

// Narrative expands the facts into the multi-paragraph report body.
func Narrative(f Facts) string {
	var paragraphs []string

	paragraphs = append(paragraphs, fmt.Sprintf("This report covers the period %s to %s. %s",
		f.PeriodFrom.UTC().Format(dates.RenderLayout),
		f.PeriodTo.UTC().Format(dates.RenderLayout),
		healthSentence(f.RAG)))

	paragraphs = append(paragraphs, achievementsParagraph(f))

	if len(f.Decisions) > 0 {
		named := f.Decisions
		if len(named) > 3 {
			named = named[:3]
		}
		paragraphs = append(paragraphs, "Key decisions this period: "+strings.Join(named, "; ")+".")
	}

	if p := attentionParagraph(f); p != "" {
		paragraphs = append(paragraphs, p)
	}

	paragraphs = append(paragraphs, forwardParagraph(f))

	return strings.Join(paragraphs, "\n\n")
}

func healthSentence(rag Severity) string {
	switch rag {
	case Red:
		return "Overall delivery health is at risk."
	case Amber:
		return "Overall delivery health needs attention."
	default:
		return "Overall delivery health is on track."
	}
}

func achievementsParagraph(f Facts) string {
	done := len(f.MilestonesDone) + f.WorkItemsDone + f.ChangesClosed + f.RAIDClosed
	if done == 0 {
		return "No completed items were recorded for this period."
	}
	var sentences []string
	if n := len(f.MilestonesDone); n > 0 {
		named := f.MilestonesDone
		suffix := ""
		if len(named) > 3 {
			suffix = fmt.Sprintf(" +%d more", len(named)-3)
			named = named[:3]
		}
		sentences = append(sentences, fmt.Sprintf("%s completed: %s%s.",
			countNoun(n, "milestone", "milestones"), strings.Join(named, ", "), suffix))
	}
	var counted []string
	if f.WorkItemsDone > 0 {
		counted = append(counted, countNoun(f.WorkItemsDone, "work item", "work items"))
	}
	if f.ChangesClosed > 0 {
		counted = append(counted, countNoun(f.ChangesClosed, "change request", "change requests"))
	}
	if f.RAIDClosed > 0 {
		counted = append(counted, countNoun(f.RAIDClosed, "RAID entry", "RAID entries"))
	}
	if len(counted) > 0 {
		verb := "were"
		if f.WorkItemsDone+f.ChangesClosed+f.RAIDClosed == 1 {
			verb = "was"
		}
		sentences = append(sentences, fmt.Sprintf("%s %s closed.", joinAnd(counted), verb))
	}
	return strings.Join(sentences, " ")
}

func attentionParagraph(f Facts) string {
	var sentences []string
	if f.RAG == Red && f.Signals.Overdue > 0 {
		named := f.OverdueTitles
		if len(named) > 3 {
			named = named[:3]
		}
		sentence := countNoun(f.Signals.Overdue, "item is overdue", "items are overdue")
		if len(named) > 0 {
			sentence += ": " + strings.Join(named, ", ")
		}
		sentences = append(sentences, sentence+". Escalation within 48 hours is recommended.")
	}
	if f.Signals.Blockers > 0 {
		named := f.BlockerTitles
		if len(named) > 2 {
			named = named[:2]
		}
		sentence := countNoun(f.Signals.Blockers, "blocker is open", "blockers are open")
		if len(named) > 0 {
			sentence += ": " + strings.Join(named, ", ")
		}
		sentences = append(sentences, sentence+".")
	}
	return strings.Join(sentences, " ")
}

func forwardParagraph(f Facts) string {
	if len(f.DueSoon) == 0 {
		return "No items fall due in the coming period."
	}
	counts := map[Kind]int{}
	for _, it := range f.DueSoon {
		counts[it.Kind]++
	}
	type kindCount struct {
		kind Kind
		n    int
	}
	var ranked []kindCount
	for k, n := range counts {
		ranked = append(ranked, kindCount{k, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].kind < ranked[j].kind
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	var parts []string
	for _, kc := range ranked {
		nouns := kindNouns[kc.kind]
		parts = append(parts, countNoun(kc.n, nouns[0], nouns[1]))
	}
	return fmt.Sprintf("Looking ahead, %s due in the next %d days, including %s.",
		countNoun(len(f.DueSoon), "item falls", "items fall"), f.WindowDays, joinAnd(parts))
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
