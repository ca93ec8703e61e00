package memory_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ermine-ai/ermine/pkg/service/memory"
	"github.com/m-mizutani/gt"
)

func newStore(t *testing.T, lambda float64, max int) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{
		DecayLambda: lambda,
		Path:        filepath.Join(t.TempDir(), "memory.json"),
		MaxMemories: max,
	})
	gt.NoError(t, err)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := memory.New(memory.Config{DecayLambda: -0.1, MaxMemories: 10})
	gt.Error(t, err)

	_, err = memory.New(memory.Config{DecayLambda: 0, MaxMemories: 0})
	gt.Error(t, err)
}

func TestRecallExactMatchRanksFirst(t *testing.T) {
	s := newStore(t, 0, 100)

	gt.NoError(t, s.Store("about cats", []float32{1, 0, 0}))
	gt.NoError(t, s.Store("about dogs", []float32{0, 1, 0}))
	gt.NoError(t, s.Store("about fish", []float32{0, 0, 1}))

	got, err := s.Recall([]float32{0, 1, 0}, 2)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(2)
	gt.V(t, got[0]).Equal("about dogs")
}

func TestStoreRejectsEmptyEmbedding(t *testing.T) {
	s := newStore(t, 0, 100)

	err := s.Store("nothing", nil)
	gt.Error(t, err)
	gt.V(t, errors.Is(err, memory.ErrEmptyEmbedding)).Equal(true)
}

func TestDimensionFixedByFirstRecord(t *testing.T) {
	s := newStore(t, 0, 100)

	gt.NoError(t, s.Store("first", []float32{1, 2, 3}))

	err := s.Store("second", []float32{1, 2})
	gt.Error(t, err)
	gt.V(t, errors.Is(err, memory.ErrDimensionMismatch)).Equal(true)

	_, err = s.Recall([]float32{1, 2, 3, 4}, 1)
	gt.Error(t, err)
	gt.V(t, errors.Is(err, memory.ErrDimensionMismatch)).Equal(true)
}

func TestRecencyOutranksSimilarity(t *testing.T) {
	s := newStore(t, 3.0, 100)

	weekOld := time.Now().Add(-7 * 24 * time.Hour)
	gt.NoError(t, s.Store("old exact match", []float32{1, 0}, memory.WithCreatedAt(weekOld)))
	gt.NoError(t, s.Store("fresh near match", []float32{0.9, float32(0.43589)}))

	got, err := s.Recall([]float32{1, 0}, 2)
	gt.NoError(t, err)
	gt.V(t, got[0]).Equal("fresh near match")
	gt.V(t, got[1]).Equal("old exact match")
}

func TestZeroLambdaIgnoresAge(t *testing.T) {
	s := newStore(t, 0, 100)

	yearOld := time.Now().Add(-365 * 24 * time.Hour)
	gt.NoError(t, s.Store("ancient exact", []float32{1, 0}, memory.WithCreatedAt(yearOld)))
	gt.NoError(t, s.Store("fresh off-axis", []float32{0, 1}))

	got, err := s.Recall([]float32{1, 0}, 1)
	gt.NoError(t, err)
	gt.V(t, got[0]).Equal("ancient exact")
}

func TestRecallEdgeCases(t *testing.T) {
	s := newStore(t, 0, 100)

	got, err := s.Recall([]float32{1}, 3)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(0)

	gt.NoError(t, s.Store("only", []float32{1, 1}))

	got, err = s.Recall([]float32{1, 1}, 0)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(0)

	got, err = s.Recall([]float32{1, 1}, 10)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(1)
}

func TestZeroVectorDoesNotPanic(t *testing.T) {
	s := newStore(t, 0, 100)

	gt.NoError(t, s.Store("zero", []float32{0, 0}))
	gt.NoError(t, s.Store("unit", []float32{1, 0}))

	got, err := s.Recall([]float32{0, 0}, 2)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(2)
}

func TestEvictionDropsOldestTenPercent(t *testing.T) {
	s := newStore(t, 0, 20)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 21; i++ {
		gt.NoError(t, s.Store("record", []float32{float32(i), 1},
			memory.WithCreatedAt(base.Add(time.Duration(i)*time.Second)),
			memory.WithMetadata(map[string]any{"seq": i})))
	}

	// 21 records exceeds max 20: the oldest max/10 = 2 are evicted.
	gt.V(t, s.Len()).Equal(19)

	// The two oldest must be gone, the newest kept.
	scored, err := s.RecallScored([]float32{0, 1}, 19)
	gt.NoError(t, err)
	for _, m := range scored {
		gt.V(t, m.Text).Equal("record")
	}
}

func TestEvictionKeepsNewerRecords(t *testing.T) {
	s := newStore(t, 0, 5)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		text := "old"
		if i > 0 {
			text = "new"
		}
		gt.NoError(t, s.Store(text, []float32{1, 0},
			memory.WithCreatedAt(base.Add(time.Duration(i)*time.Minute))))
	}

	gt.V(t, s.Len()).Equal(5)
	got, err := s.Recall([]float32{1, 0}, 5)
	gt.NoError(t, err)
	for _, text := range got {
		gt.V(t, text).Equal("new")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	cfg := memory.Config{DecayLambda: 0, Path: path, MaxMemories: 100}

	s, err := memory.New(cfg)
	gt.NoError(t, err)
	gt.NoError(t, s.Store("alpha", []float32{1, 0, 0}, memory.WithMetadata(map[string]any{"type": "user"})))
	gt.NoError(t, s.Store("beta", []float32{0, 1, 0}))
	gt.NoError(t, s.Store("gamma", []float32{0, 0, 1}))
	gt.NoError(t, s.Save())

	want, err := s.Recall([]float32{0.2, 0.9, 0.1}, 3)
	gt.NoError(t, err)

	fresh, err := memory.New(cfg)
	gt.NoError(t, err)
	count, err := fresh.Load()
	gt.NoError(t, err)
	gt.V(t, count).Equal(3)
	gt.V(t, fresh.Len()).Equal(3)

	got, err := fresh.Recall([]float32{0.2, 0.9, 0.1}, 3)
	gt.NoError(t, err)
	gt.V(t, got).Equal(want)

	// Loaded store keeps the fixed dimension.
	err = fresh.Store("delta", []float32{1, 2})
	gt.Error(t, err)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newStore(t, 0, 100)

	count, err := s.Load()
	gt.NoError(t, err)
	gt.V(t, count).Equal(0)
}

func TestEmptyStoreSavesValidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	cfg := memory.Config{Path: path, MaxMemories: 10}

	s, err := memory.New(cfg)
	gt.NoError(t, err)
	gt.NoError(t, s.Save())

	fresh, err := memory.New(cfg)
	gt.NoError(t, err)
	count, err := fresh.Load()
	gt.NoError(t, err)
	gt.V(t, count).Equal(0)
}

func TestClearResetsDimension(t *testing.T) {
	s := newStore(t, 0, 100)

	gt.NoError(t, s.Store("a", []float32{1, 2, 3}))
	s.Clear()
	gt.V(t, s.Len()).Equal(0)

	// A different dimension is accepted after clear.
	gt.NoError(t, s.Store("b", []float32{1, 2}))
}

func TestLoadRejectsMixedDimensionArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	raw := `{"records":[` +
		`{"text":"a","embedding":[1,0,0],"created_at":"2026-01-01T00:00:00Z"},` +
		`{"text":"b","embedding":[1,0],"created_at":"2026-01-02T00:00:00Z"}]}`
	gt.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := memory.New(memory.Config{DecayLambda: 0, Path: path, MaxMemories: 10})
	gt.NoError(t, err)

	_, err = s.Load()
	gt.Error(t, err)
	gt.V(t, errors.Is(err, memory.ErrDimensionMismatch)).Equal(true)
	gt.V(t, s.Len()).Equal(0)

	// the store stays usable after rejecting the archive
	gt.NoError(t, s.Store("fresh", []float32{1, 0, 0}))
	got, err := s.Recall([]float32{1, 0, 0}, 2)
	gt.NoError(t, err)
	gt.V(t, len(got)).Equal(1)
}

func TestLoadEnforcesMaxMemories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")

	big, err := memory.New(memory.Config{DecayLambda: 0, Path: path, MaxMemories: 100})
	gt.NoError(t, err)
	for i := 0; i < 20; i++ {
		gt.NoError(t, big.Store("note", []float32{float32(i), 1},
			memory.WithCreatedAt(time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC))))
	}
	gt.NoError(t, big.Save())

	small, err := memory.New(memory.Config{DecayLambda: 0, Path: path, MaxMemories: 10})
	gt.NoError(t, err)
	count, err := small.Load()
	gt.NoError(t, err)
	gt.Number(t, count).LessOrEqual(10)
	gt.Number(t, small.Len()).LessOrEqual(10)
}
