package digest

import (
	"fmt"
	"strings"
)

// Route segments the UI router serves lower-case. Stored links drift in
// case over time, so every outgoing link is rewritten through
// NormalizeLinkPath before it leaves the engine.
var knownSegments = map[string]string{
	"raid":      "raid",
	"wbs":       "wbs",
	"schedule":  "schedule",
	"change":    "change",
	"artifacts": "artifacts",
}

// NormalizeLinkPath lower-cases known route segments in a link path,
// leaving ids, codes and the query string untouched.
func NormalizeLinkPath(link string) string {
	if link == "" {
		return ""
	}
	path := link
	query := ""
	if i := strings.IndexByte(link, '?'); i >= 0 {
		path, query = link[:i], link[i:]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if canonical, ok := knownSegments[strings.ToLower(seg)]; ok {
			segments[i] = canonical
		}
	}
	return strings.Join(segments, "/") + query
}

func (m ProjectMeta) artifactLink(artifactID string) string {
	return fmt.Sprintf("/projects/%s/artifacts/%s", m.HumanCode, artifactID)
}

func (m ProjectMeta) scheduleLink(milestoneID string) string {
	return fmt.Sprintf("/projects/%s/schedule?focus=%s", m.HumanCode, milestoneID)
}

func (m ProjectMeta) wbsLink(workItemID string) string {
	return fmt.Sprintf("/projects/%s/wbs?focus=%s", m.HumanCode, workItemID)
}

func (m ProjectMeta) raidLink(ref string) string {
	return fmt.Sprintf("/projects/%s/raid/%s", m.HumanCode, ref)
}

func (m ProjectMeta) changeLink(seq int) string {
	return fmt.Sprintf("/projects/%s/change/%d", m.HumanCode, seq)
}
