package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// GetSystemPrompt sets the tone and limits of the explanation.
func GetSystemPrompt() string {
	return `You explain the output of an automated skin lesion screening tool to a patient.

Requirements:
- Plain language, at most 150 words, no markdown.
- Never state or imply a diagnosis. The tool gives a preliminary assessment only.
- Say what the risk level means for next steps (for example how soon to see a doctor).
- If the result is marked low confidence, say that the image could not be assessed reliably.
- End with the exact disclaimer you are given.`
}

// GetUserPrompt renders a diagnosis view as the user message.
func GetUserPrompt(v diagnosis.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Finding: %s\n", v.CancerLabel)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", v.Confidence*100)
	fmt.Fprintf(&b, "Risk level: %s\n", v.RiskLabel)
	if v.Inconclusive {
		b.WriteString("Low confidence: yes\n")
	}
	if len(v.Scores) > 0 {
		types := make([]diagnosis.CancerType, 0, len(v.Scores))
		for t := range v.Scores {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return v.Scores[types[i]] > v.Scores[types[j]] })
		b.WriteString("Other classes:")
		for _, t := range types {
			fmt.Fprintf(&b, " %s %.0f%%;", t.Label(), v.Scores[t]*100)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Disclaimer: %s", v.Disclaimer)
	return b.String()
}
