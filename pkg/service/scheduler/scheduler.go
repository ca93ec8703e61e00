package scheduler

import (
	"math"
	"sort"

	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// probFloor keeps probabilities away from zero before taking log2.
const probFloor = 1e-12

// Scheduler converts raw per-tool relevance scores into a probability
// distribution and gates the selection on Shannon entropy: when the
// distribution is too flat, the decision asks for clarification instead
// of committing to a tool.
type Scheduler struct {
	thresholdBits float64
}

// New creates a scheduler with the given default entropy threshold in bits.
// A negative threshold is a contract violation.
func New(thresholdBits float64) (*Scheduler, error) {
	if thresholdBits < 0 {
		return nil, goerr.New("threshold must be >= 0", goerr.V("threshold_bits", thresholdBits))
	}
	return &Scheduler{thresholdBits: thresholdBits}, nil
}

// Threshold returns the scheduler's default entropy threshold.
func (s *Scheduler) Threshold() float64 {
	return s.thresholdBits
}

// Decide scores against the scheduler's default threshold.
func (s *Scheduler) Decide(scores map[string]float64) model.ToolDecision {
	return s.DecideWithThreshold(scores, s.thresholdBits)
}

// DecideWithThreshold lets the caller substitute a tuned threshold for this
// call only, without mutating the scheduler. An empty score map is not an
// error: it yields an immediate clarification decision.
//
// Argmax ties are broken by sorted tool name. The choice is deterministic
// but implementation-defined; callers must not rely on a particular winner
// among exactly tied scores.
func (s *Scheduler) DecideWithThreshold(scores map[string]float64, thresholdBits float64) model.ToolDecision {
	if len(scores) == 0 {
		return model.ToolDecision{
			EntropyBits:   0.0,
			Probabilities: map[string]float64{},
			ShouldClarify: true,
		}
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = scores[name]
	}

	probs := softmax(values)
	entropyBits := shannonEntropy(probs)

	bestIdx := 0
	for i, p := range probs {
		if p > probs[bestIdx] {
			bestIdx = i
		}
	}

	probabilities := make(map[string]float64, len(names))
	for i, name := range names {
		probabilities[name] = probs[i]
	}

	decision := model.ToolDecision{
		EntropyBits:   entropyBits,
		Probabilities: probabilities,
		ShouldClarify: entropyBits > thresholdBits,
	}
	if !decision.ShouldClarify {
		decision.Tool = names[bestIdx]
	}
	return decision
}

// softmax computes a numerically stable softmax: the maximum is subtracted
// before exponentiating. If the sum of exponentials degenerates to a
// non-positive value, the distribution falls back to uniform.
func softmax(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	exps := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		exps[i] = math.Exp(v - maxVal)
		sum += exps[i]
	}

	if sum <= 0 || math.IsNaN(sum) {
		uniform := 1.0 / float64(len(values))
		for i := range exps {
			exps[i] = uniform
		}
		return exps
	}

	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// shannonEntropy returns the entropy of the distribution in bits.
func shannonEntropy(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p < probFloor {
			p = probFloor
		} else if p > 1.0 {
			p = 1.0
		}
		h -= p * math.Log2(p)
	}
	if h < 0 {
		return 0
	}
	return h
}
