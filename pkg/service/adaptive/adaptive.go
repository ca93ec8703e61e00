package adaptive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ermine-ai/ermine/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Confidence bands for the adjustment policy. A confident success relaxes
// the gate, a lucky low-confidence success tightens it half a step, and
// anything in between leaves the threshold alone.
const (
	confidentSuccess = 0.8
	luckySuccess     = 0.55
)

// State is the persisted counter/threshold bundle. Updates always equals
// Successes + Failures.
type State struct {
	ThresholdBits float64 `json:"threshold_bits"`
	Updates       int     `json:"updates"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
}

// Config configures a Tuner. Zero values for Min/Max/Step pick the defaults
// used by the agent: [0.5, 2.5] with a 0.05 step.
type Config struct {
	Path             string
	InitialThreshold float64
	MinThreshold     float64
	MaxThreshold     float64
	Step             float64
}

// Tuner is an online controller for the scheduler's entropy threshold.
// Tool-execution outcomes nudge the threshold up or down; the state survives
// restarts through a small JSON file. Persistence is best-effort: the tuner
// is an optimization, never a reason to fail a turn.
type Tuner struct {
	mu    sync.Mutex
	cfg   Config
	state State
}

// New loads persisted state from cfg.Path, or starts from the configured
// initial threshold when the file is missing or unreadable. A corrupt state
// file is treated as absent.
func New(ctx context.Context, cfg Config) *Tuner {
	if cfg.MinThreshold == 0 && cfg.MaxThreshold == 0 {
		cfg.MinThreshold = 0.5
		cfg.MaxThreshold = 2.5
	}
	if cfg.Step == 0 {
		cfg.Step = 0.05
	}

	t := &Tuner{
		cfg:   cfg,
		state: State{ThresholdBits: cfg.InitialThreshold},
	}
	t.load(ctx)
	t.state.ThresholdBits = t.clamp(t.state.ThresholdBits)
	return t
}

// Current returns the live threshold.
func (t *Tuner) Current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.ThresholdBits
}

// State returns a snapshot of the tuner's counters.
func (t *Tuner) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Observe records one tool-execution outcome and returns the new threshold.
// Exactly one adjustment branch applies:
//
//  1. confident success (confidence >= 0.8): lower the bar by half a step
//  2. any failure: raise the bar by a full step
//  3. lucky success (confidence < 0.55): raise the bar by half a step
//  4. otherwise: no change
//
// The result is clamped into [MinThreshold, MaxThreshold] and persisted
// before returning.
func (t *Tuner) Observe(ctx context.Context, success bool, topConfidence float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Updates++
	if success {
		t.state.Successes++
	} else {
		t.state.Failures++
	}

	switch {
	case success && topConfidence >= confidentSuccess:
		t.state.ThresholdBits -= t.cfg.Step * 0.5
	case !success:
		t.state.ThresholdBits += t.cfg.Step
	case topConfidence < luckySuccess:
		t.state.ThresholdBits += t.cfg.Step * 0.5
	}

	t.state.ThresholdBits = t.clamp(t.state.ThresholdBits)

	if err := t.save(); err != nil {
		logging.From(ctx).Warn("failed to persist adaptive threshold state",
			"path", t.cfg.Path, "error", err)
	}
	return t.state.ThresholdBits
}

func (t *Tuner) clamp(v float64) float64 {
	if v < t.cfg.MinThreshold {
		return t.cfg.MinThreshold
	}
	if v > t.cfg.MaxThreshold {
		return t.cfg.MaxThreshold
	}
	return v
}

func (t *Tuner) load(ctx context.Context) {
	if t.cfg.Path == "" {
		return
	}

	raw, err := os.ReadFile(t.cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.From(ctx).Warn("failed to read adaptive threshold state",
				"path", t.cfg.Path, "error", err)
		}
		return
	}

	var loaded State
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logging.From(ctx).Warn("adaptive threshold state is corrupt, reverting to defaults",
			"path", t.cfg.Path, "error", err)
		return
	}
	t.state = loaded
}

func (t *Tuner) save() error {
	if t.cfg.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.cfg.Path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create state directory")
	}

	raw, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal state")
	}

	if err := os.WriteFile(t.cfg.Path, raw, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write state file", goerr.V("path", t.cfg.Path))
	}
	return nil
}
