package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	notes map[string]Note
	clock func() time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{
		notes: map[string]Note{},
		clock: time.Now,
	}
}

func (s *memoryStore) Enqueue(ctx context.Context, content, target string) (Note, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(target) == "" {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	note := Note{
		ID:        NewNoteID(now),
		Content:   content,
		Target:    target,
		CreatedAt: now,
		Status:    StatusPending,
	}
	s.notes[note.ID] = note
	return note, nil
}

func (s *memoryStore) ListByStatus(ctx context.Context, status Status) ([]Note, error) {
	if !validStatus(status) {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortNotes(collectByStatus(s.notes, status)), nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (Note, error) {
	if !validStatus(status) {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	applyUpdate(&note, status, lastErr)
	if status == StatusDone {
		delete(s.notes, id)
		return note, nil
	}
	s.notes[id] = note
	return note, nil
}

func (s *memoryStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return false, nil
	}
	delete(s.notes, id)
	return true, nil
}

func (s *memoryStore) Count(ctx context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" {
		return len(s.notes), nil
	}
	if !validStatus(status) {
		return 0, ErrInvalidInput
	}
	return len(collectByStatus(s.notes, status)), nil
}

func (s *memoryStore) Close() error {
	return nil
}

func collectByStatus(notes map[string]Note, status Status) []Note {
	out := make([]Note, 0, len(notes))
	for _, note := range notes {
		if note.Status == status {
			out = append(out, note)
		}
	}
	return out
}

func sortNotes(notes []Note) []Note {
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes
}

func applyUpdate(note *Note, status Status, lastErr string) {
	note.Status = status
	if lastErr != "" {
		note.RetryCount++
		note.LastError = lastErr
	}
}
