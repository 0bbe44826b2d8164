// Package dialog turns raw diarized turns into display paragraphs and pins
// evaluation issues to the paragraph that quotes them. Everything here is
// pure and safe to call from any goroutine.
package dialog

import "voice-qc-go/internal/types"

// Consolidate merges adjacent turns from the same speaker. The output keeps
// input order and covers every input turn exactly once.
func Consolidate(turns []types.Turn) []types.ConsolidatedTurn {
	if len(turns) == 0 {
		return nil
	}

	out := make([]types.ConsolidatedTurn, 0, len(turns))
	cur := start(turns[0], 0)
	for i := 1; i < len(turns); i++ {
		t := turns[i]
		if t.SpeakerID != cur.SpeakerID {
			out = append(out, cur)
			cur = start(t, i)
			continue
		}
		if text := DisplayText(t.Text); text != "" {
			if cur.Text == "" {
				cur.Text = text
			} else {
				cur.Text += " " + text
			}
		}
		cur.EndSec = t.EndSec
		cur.Confidence = min(cur.Confidence, t.Confidence)
		cur.LastIndex = i
	}
	return append(out, cur)
}

func start(t types.Turn, i int) types.ConsolidatedTurn {
	return types.ConsolidatedTurn{
		SpeakerID:  t.SpeakerID,
		Text:       DisplayText(t.Text),
		StartSec:   t.StartSec,
		EndSec:     t.EndSec,
		Confidence: t.Confidence,
		FirstIndex: i,
		LastIndex:  i,
	}
}
