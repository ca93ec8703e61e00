package model

import (
	"time"
)

// MemoryRecord is one stored memory snippet with its embedding vector.
// Records are immutable after creation; they leave the store only through
// eviction or an explicit clear.
type MemoryRecord struct {
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScoredMemory pairs a recalled memory text with its combined
// similarity-and-recency score.
type ScoredMemory struct {
	Text  string
	Score float64
}
