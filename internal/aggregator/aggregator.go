package aggregator

import "voice-qc-go/internal/types"

// Summary is the roll-up of a batch of call reports.
type Summary struct {
	Total            int            `json:"total"`
	Processed        int            `json:"processed"`
	Failed           int            `json:"failed"`
	FailuresByKind   map[string]int `json:"failures_by_kind"`
	Escalated        int            `json:"escalated"`
	IssuesByCategory map[string]int `json:"issues_by_category"`
	CallsByCategory  map[string]int `json:"calls_by_category"`
	DroppedIssues    int            `json:"dropped_issues"`
	MeanScore        float64        `json:"mean_score"`
	TokenCost        int            `json:"token_cost"`
}

// Aggregate summarizes reports. A report counts as processed when it has an
// evaluation, even if escalation later failed.
func Aggregate(reports []types.CallReport) Summary {
	s := Summary{
		Total:            len(reports),
		FailuresByKind:   map[string]int{},
		IssuesByCategory: map[string]int{},
		CallsByCategory:  map[string]int{},
	}
	scored := 0.0
	for _, r := range reports {
		if r.Error != "" {
			s.Failed++
			kind := r.ErrorKind
			if kind == "" {
				kind = "unknown"
			}
			s.FailuresByKind[kind]++
		}
		ev := r.Evaluation
		if ev == nil {
			continue
		}
		s.Processed++
		scored += ev.Score
		s.TokenCost += ev.TokenCost
		if ev.Provenance == types.ProvenanceEscalated || ev.Provenance == types.ProvenanceNoImprovement {
			s.Escalated++
		}
		seen := map[string]bool{}
		for _, is := range ev.Issues {
			cat := is.Category
			if cat == "" {
				cat = "other"
			}
			s.IssuesByCategory[cat]++
			if !seen[cat] {
				seen[cat] = true
				s.CallsByCategory[cat]++
			}
		}
		s.DroppedIssues += len(r.Dropped)
	}
	if s.Processed > 0 {
		s.MeanScore = scored / float64(s.Processed)
	}
	return s
}
