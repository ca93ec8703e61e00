package cron

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Task is one scheduled prompt. Interval-based only; the runner fires
// the prompt every IntervalSeconds while Enabled is true.
type Task struct {
	ID              string    `json:"id"`
	Prompt          string    `json:"prompt"`
	IntervalSeconds int       `json:"interval_seconds"`
	Enabled         bool      `json:"enabled"`
	LastRun         time.Time `json:"last_run,omitzero"`
}

// NewTaskID returns a short random task identifier.
func NewTaskID() string {
	return uuid.New().String()[:8]
}

// Store keeps cron tasks in a JSON file. Every mutation rewrites the
// whole file; a missing file means no tasks.
type Store struct {
	path  string
	mutex sync.Mutex
	tasks []Task
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.tasks = nil
			return nil
		}
		return goerr.Wrap(err, "failed to read cron file", goerr.V("path", s.path))
	}

	var payload struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return goerr.Wrap(err, "failed to parse cron file", goerr.V("path", s.path))
	}
	s.tasks = payload.Tasks
	return nil
}

func (s *Store) save() error {
	payload := struct {
		Tasks []Task `json:"tasks"`
	}{Tasks: s.tasks}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode cron tasks")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create cron directory")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write cron file", goerr.V("path", s.path))
	}
	return nil
}

// Add registers a new enabled task and returns its ID.
func (s *Store) Add(prompt string, intervalSeconds int) (string, error) {
	if prompt == "" {
		return "", goerr.New("prompt must not be empty")
	}
	if intervalSeconds <= 0 {
		return "", goerr.New("interval must be positive", goerr.V("interval", intervalSeconds))
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	task := Task{
		ID:              NewTaskID(),
		Prompt:          prompt,
		IntervalSeconds: intervalSeconds,
		Enabled:         true,
	}
	s.tasks = append(s.tasks, task)
	if err := s.save(); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Remove deletes a task by ID. Returns false when no task matched.
func (s *Store) Remove(id string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.tasks[:0]
	removed := false
	for _, t := range s.tasks {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept

	if !removed {
		return false, nil
	}
	if err := s.save(); err != nil {
		return true, err
	}
	return true, nil
}

// List returns a copy of all tasks.
func (s *Store) List() []Task {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// MarkRun records a task execution time.
func (s *Store) MarkRun(id string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].LastRun = at
			return s.save()
		}
	}
	return goerr.New("task not found", goerr.V("id", id))
}
