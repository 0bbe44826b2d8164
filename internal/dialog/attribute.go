package dialog

import (
	"strings"
	"unicode/utf8"

	"voice-qc-go/internal/types"
)

// Attribution maps consolidated turn index to the issues quoting it.
type Attribution struct {
	ByTurn map[int][]types.Issue `json:"by_turn"`
	// Dropped issues quote text that appears in no turn.
	Dropped []types.Issue `json:"dropped,omitempty"`
	// Unanchored issues carry no excerpt at all.
	Unanchored []types.Issue `json:"unanchored,omitempty"`
}

// Attribute pins each issue to at most one turn by exact substring match on
// the match-normalized text. With several candidates the shortest turn wins,
// then the earliest match position, then the lowest index. Issues keep their
// input order within a turn.
func Attribute(turns []types.ConsolidatedTurn, issues []types.Issue) Attribution {
	texts := make([]string, len(turns))
	lengths := make([]int, len(turns))
	for i, t := range turns {
		texts[i] = MatchText(t.Text)
		lengths[i] = utf8.RuneCountInString(texts[i])
	}

	a := Attribution{ByTurn: make(map[int][]types.Issue)}
	for _, issue := range issues {
		excerpt := MatchText(issue.QuotedExcerpt)
		if excerpt == "" {
			a.Unanchored = append(a.Unanchored, issue)
			continue
		}

		best, bestPos := -1, 0
		for i, text := range texts {
			pos := strings.Index(text, excerpt)
			if pos < 0 {
				continue
			}
			if best == -1 || lengths[i] < lengths[best] || (lengths[i] == lengths[best] && pos < bestPos) {
				best, bestPos = i, pos
			}
		}
		if best == -1 {
			a.Dropped = append(a.Dropped, issue)
			continue
		}
		a.ByTurn[best] = append(a.ByTurn[best], issue)
	}
	return a
}

// Annotate joins turns with their attributed issues for display.
func Annotate(turns []types.ConsolidatedTurn, a Attribution) []types.DialogTurn {
	out := make([]types.DialogTurn, len(turns))
	for i, t := range turns {
		out[i] = types.DialogTurn{ConsolidatedTurn: t, Issues: a.ByTurn[i]}
	}
	return out
}
