package memory

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ermine-ai/ermine/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// cosineFloor avoids division by zero when scoring against zero-vectors.
const cosineFloor = 1e-12

var (
	ErrEmptyEmbedding    = goerr.New("embedding must not be empty")
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")
	ErrNoPath            = goerr.New("no persistence path configured")
)

// Config configures a Store. MaxMemories must be positive and DecayLambda
// non-negative; both are contract errors otherwise.
type Config struct {
	DecayLambda float64
	Path        string
	MaxMemories int
}

// Store is a similarity-ranked memory of embedded text snippets. Recall
// combines cosine similarity with exponential recency decay so the store
// behaves like a forgetting curve rather than a pure nearest-neighbor index.
// A linear scan is deliberate: at assistant scale (thousands of records) it
// is simpler and more debuggable than an approximate index.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	records   []model.MemoryRecord
	dimension int
}

// New creates an empty store. The embedding dimension is fixed by the first
// stored record.
func New(cfg Config) (*Store, error) {
	if cfg.DecayLambda < 0 {
		return nil, goerr.New("decay lambda must be >= 0", goerr.V("decay_lambda", cfg.DecayLambda))
	}
	if cfg.MaxMemories <= 0 {
		return nil, goerr.New("max memories must be > 0", goerr.V("max_memories", cfg.MaxMemories))
	}
	return &Store{cfg: cfg}, nil
}

// StoreOption adjusts a single Store call.
type StoreOption func(*model.MemoryRecord)

// WithCreatedAt overrides the record timestamp (defaults to now).
func WithCreatedAt(ts time.Time) StoreOption {
	return func(r *model.MemoryRecord) {
		r.CreatedAt = ts
	}
}

// WithMetadata attaches open key-value metadata to the record.
func WithMetadata(meta map[string]any) StoreOption {
	return func(r *model.MemoryRecord) {
		r.Metadata = meta
	}
}

// Store appends a new record. The first call fixes the embedding dimension
// for the life of the store; later calls with a different dimension fail.
// When the record count exceeds MaxMemories, the oldest ~10% (at least one)
// are evicted by CreatedAt so the store self-bounds.
func (s *Store) Store(text string, embedding []float32, opts ...StoreOption) error {
	if len(embedding) == 0 {
		return goerr.Wrap(ErrEmptyEmbedding, "cannot store record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(embedding)
	} else if len(embedding) != s.dimension {
		return goerr.Wrap(ErrDimensionMismatch, "cannot store record",
			goerr.V("expected", s.dimension), goerr.V("got", len(embedding)))
	}

	record := model.MemoryRecord{
		Text:      text,
		Embedding: append([]float32(nil), embedding...),
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&record)
	}

	s.records = append(s.records, record)
	s.evictIfNeeded()
	return nil
}

// evictIfNeeded trims the oldest max(1, max/10) records by CreatedAt when
// the store exceeds its bound. Caller holds the lock.
func (s *Store) evictIfNeeded() {
	if len(s.records) <= s.cfg.MaxMemories {
		return
	}

	evictCount := s.cfg.MaxMemories / 10
	if evictCount < 1 {
		evictCount = 1
	}

	indices := make([]int, len(s.records))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return s.records[indices[a]].CreatedAt.Before(s.records[indices[b]].CreatedAt)
	})

	doomed := make(map[int]bool, evictCount)
	for _, idx := range indices[:evictCount] {
		doomed[idx] = true
	}

	kept := make([]model.MemoryRecord, 0, len(s.records)-evictCount)
	for i, r := range s.records {
		if !doomed[i] {
			kept = append(kept, r)
		}
	}
	s.records = kept
}

// Recall returns the texts of the top-k most relevant records.
func (s *Store) Recall(query []float32, k int) ([]string, error) {
	scored, err := s.RecallScored(query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(scored))
	for i, item := range scored {
		texts[i] = item.Text
	}
	return texts, nil
}

// RecallScored ranks records by cosine(query, record) * exp(-lambda * ageDays)
// and returns the top min(k, count). k <= 0 or an empty store yields an empty
// result. Ties are broken by insertion order (stable sort).
func (s *Store) RecallScored(query []float32, k int) ([]model.ScoredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, goerr.Wrap(ErrDimensionMismatch, "cannot recall",
			goerr.V("expected", s.dimension), goerr.V("got", len(query)))
	}

	now := time.Now()
	queryNorm := vectorNorm(query)

	type rankedRecord struct {
		index int
		score float64
	}
	ranked := make([]rankedRecord, len(s.records))
	for i, r := range s.records {
		ranked[i] = rankedRecord{index: i, score: s.score(query, queryNorm, &r, now)}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	result := make([]model.ScoredMemory, k)
	for i := 0; i < k; i++ {
		result[i] = model.ScoredMemory{
			Text:  s.records[ranked[i].index].Text,
			Score: ranked[i].score,
		}
	}
	return result, nil
}

func (s *Store) score(query []float32, queryNorm float64, r *model.MemoryRecord, now time.Time) float64 {
	var dot float64
	for i, q := range query {
		dot += float64(q) * float64(r.Embedding[i])
	}

	denom := queryNorm * vectorNorm(r.Embedding)
	if denom < cosineFloor {
		denom = cosineFloor
	}
	cosine := dot / denom

	ageDays := now.Sub(r.CreatedAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return cosine * math.Exp(-s.cfg.DecayLambda*ageDays)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Records returns a copy of all stored records in insertion order.
func (s *Store) Records() []model.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MemoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all records and resets the fixed dimension, allowing a new
// embedding model to be adopted.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dimension = 0
}

type archive struct {
	Records []model.MemoryRecord `json:"records"`
}

// Save writes all records to the configured path.
func (s *Store) Save() error {
	return s.SaveTo(s.cfg.Path)
}

// SaveTo serializes all records to the given path, fully overwriting the
// file. An empty store still writes a valid zero-record archive.
func (s *Store) SaveTo(path string) error {
	if path == "" {
		return ErrNoPath
	}

	s.mu.RLock()
	raw, err := json.Marshal(archive{Records: s.records})
	s.mu.RUnlock()
	if err != nil {
		return goerr.Wrap(err, "failed to marshal memory archive")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create archive directory")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write memory archive", goerr.V("path", path))
	}
	return nil
}

// Load reads records from the configured path.
func (s *Store) Load() (int, error) {
	return s.LoadFrom(s.cfg.Path)
}

// LoadFrom replaces the store's contents with the archive at path. A missing
// file is not an error: it loads zero records. Returns the count loaded.
func (s *Store) LoadFrom(path string) (int, error) {
	if path == "" {
		return 0, ErrNoPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, goerr.Wrap(err, "failed to read memory archive", goerr.V("path", path))
	}

	var loaded archive
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return 0, goerr.Wrap(err, "memory archive is corrupt", goerr.V("path", path))
	}

	// Every record must share one dimension, or Recall would index past
	// a shorter embedding. A mismatched archive is corrupt; the store
	// keeps its current contents.
	dimension := 0
	if len(loaded.Records) > 0 {
		dimension = len(loaded.Records[0].Embedding)
	}
	for i, r := range loaded.Records {
		if len(r.Embedding) != dimension {
			return 0, goerr.Wrap(ErrDimensionMismatch, "memory archive is corrupt",
				goerr.V("path", path), goerr.V("index", i),
				goerr.V("expected", dimension), goerr.V("got", len(r.Embedding)))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = loaded.Records
	s.dimension = dimension
	for len(s.records) > s.cfg.MaxMemories {
		s.evictIfNeeded()
	}
	return len(s.records), nil
}
