package evaluation

import (
	"fmt"
	"strings"

	"voice-qc-go/internal/types"
)

// DefaultRules is the QC rubric used when none is configured.
var DefaultRules = []string{
	"Agent greets the customer and identifies themselves and the company.",
	"Agent verifies the customer's identity before discussing account details.",
	"Agent does not promise refunds, discounts or timelines they cannot authorize.",
	"Agent stays polite; no interrupting, sarcasm or blaming the customer.",
	"Agent confirms the resolution and next steps before closing the call.",
}

// FormatConversation renders turns as "Speaker: text" lines.
func FormatConversation(turns []types.ConsolidatedTurn) string {
	var b strings.Builder
	for _, t := range turns {
		speaker := t.SpeakerID
		if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Text)
	}
	return b.String()
}

// BuildPrompt builds the evaluation prompt for one conversation.
func BuildPrompt(conversation string, rules []string) string {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	var rb strings.Builder
	for i, r := range rules {
		fmt.Fprintf(&rb, "%d. %s\n", i+1, r)
	}

	prompt := `You are a call-center Quality Control auditor.

Check the CONVERSATION below against every RULE. For each violation, quote
the exact words from the conversation that show it. Quotes MUST be copied
verbatim from a single speaker turn; do not paraphrase or merge turns.

RULES:
%s
Return ONLY a JSON object with this schema:
{
  "score": 0,          // overall compliance 0-100
  "confidence": 0,     // how sure you are of this assessment, 0-100
  "issues": [
    {"category": "", "comment": "", "quoted_excerpt": ""}
  ]
}

DO NOT include commentary.
DO NOT wrap the JSON in backticks.

CONVERSATION:
%s`

	return fmt.Sprintf(prompt, rb.String(), conversation)
}
