package replay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrRecordingNotFound = errors.New("replay: запись не найдена")

// Store хранилище законченных записей
type Store interface {
	Save(ctx context.Context, r *Recording) error
	Load(ctx context.Context, id uuid.UUID) (*Recording, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}

// sortSummaries от старых к новым
func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID.String() < s[j].ID.String()
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}

// MemoryStore держит закодированные записи в памяти процесса
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[uuid.UUID][]byte
	summaries map[uuid.UUID]Summary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[uuid.UUID][]byte),
		summaries: make(map[uuid.UUID]Summary),
	}
}

func (s *MemoryStore) Save(_ context.Context, r *Recording) error {
	blob, err := EncodeRecording(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[r.ID] = blob
	s.summaries[r.ID] = r.Summary()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id uuid.UUID) (*Recording, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRecordingNotFound
	}
	return DecodeRecording(blob)
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		out = append(out, sum)
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrRecordingNotFound
	}
	delete(s.blobs, id)
	delete(s.summaries, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
