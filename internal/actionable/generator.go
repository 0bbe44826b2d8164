package actionable

import (
	"fmt"
	"sort"

	"voice-qc-go/internal/aggregator"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate turns a batch summary into one coaching recommendation.
func Generate(s aggregator.Summary) ActionCard {
	if s.Processed == 0 {
		return ActionCard{
			Insight: "No calls were evaluated",
			Action:  "Check transcription credentials and retry the batch",
			Impact:  "None until calls are processed",
		}
	}

	worst, calls := topCategory(s.CallsByCategory)
	rate := float64(calls) / float64(s.Processed)
	if rate >= 0.35 && worst != "" {
		return ActionCard{
			Insight: fmt.Sprintf("%q issues in %.0f%% of evaluated calls (mean score %.0f)", worst, rate*100, s.MeanScore),
			Action:  fmt.Sprintf("Schedule targeted coaching on %s for the affected agents", worst),
			Impact:  "Raise QC scores on the most frequent violation",
		}
	}
	return ActionCard{
		Insight: "No dominant QC issue detected",
		Action:  "Keep sampling calls and review low scorers individually",
		Impact:  "Low immediate intervention",
	}
}

// topCategory breaks ties by name so the card is deterministic.
func topCategory(counts map[string]int) (string, int) {
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	best, n := "", 0
	for _, c := range cats {
		if counts[c] > n {
			best, n = c, counts[c]
		}
	}
	return best, n
}
