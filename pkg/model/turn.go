package model

import (
	"sort"
)

// TurnResult bundles everything produced by one orchestrated turn: the final
// reply text, the tool that ran (if any), and the scheduling decision that
// led there.
type TurnResult struct {
	Text         string
	Tool         string
	ToolArgs     map[string]any
	ToolOutput   string
	Decision     ToolDecision
	ActiveSkills []string
	ReviewNote   string
}

// ToolDecision is the immutable result of one scheduling call. Probabilities
// sum to 1 over all candidate tools; EntropyBits is the Shannon entropy of
// that distribution. Tool is empty when ShouldClarify is true.
type ToolDecision struct {
	Tool          string
	EntropyBits   float64
	Probabilities map[string]float64
	ShouldClarify bool
}

// TopCandidates returns up to n candidate tool names ordered by descending
// probability, ties broken by name.
func (d ToolDecision) TopCandidates(n int) []string {
	names := make([]string, 0, len(d.Probabilities))
	for name := range d.Probabilities {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := d.Probabilities[names[i]], d.Probabilities[names[j]]
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})
	if n > len(names) {
		n = len(names)
	}
	return names[:n]
}
