package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type frameKey struct {
	expID    string
	frameNo  int
	username string
}

// MemoryStore хранилище в памяти. Считает записи, используется в тестах
// движка трекинга и сервисов.
type MemoryStore struct {
	mu          sync.Mutex
	frames      map[frameKey]*FrameRecord
	frameCounts map[string]int
	saves       []frameKey

	// SaveErr если задана, возвращается из Save
	SaveErr error
	now     func() time.Time
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		frames:      make(map[frameKey]*FrameRecord),
		frameCounts: make(map[string]int),
		now:         time.Now,
	}
}

// SetFrameCount регистрирует эксперимент
func (s *MemoryStore) SetFrameCount(expID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCounts[expID] = count
}

// Put кладет запись без учета в счетчике сохранений
func (s *MemoryStore) Put(record *FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[keyOf(record)] = record.Clone()
}

// Get двухуровневый поиск
func (s *MemoryStore) Get(ctx context.Context, expID string, frameNo int, username string) (Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username != "" {
		if r, ok := s.frames[frameKey{expID, frameNo, username}]; ok {
			return Lookup{Record: r.Clone(), Tier: TierUser}, nil
		}
	}
	if r, ok := s.frames[frameKey{expID, frameNo, ""}]; ok {
		return Lookup{Record: r.Clone(), Tier: TierSystem}, nil
	}
	return Lookup{Tier: TierNone}, nil
}

// GetOrSynthesizeForUser запись пользователя или копия системной
func (s *MemoryStore) GetOrSynthesizeForUser(ctx context.Context, expID string, frameNo int, username string) (*FrameRecord, bool, error) {
	lookup, err := s.Get(ctx, expID, frameNo, username)
	if err != nil {
		return nil, false, err
	}
	switch lookup.Tier {
	case TierUser:
		return lookup.Record, false, nil
	case TierSystem:
		return synthesize(lookup.Record, username, s.now().UTC()), true, nil
	default:
		return nil, false, fmt.Errorf("%s frame %d: %w", expID, frameNo, ErrRecordNotFound)
	}
}

// Save сохраняет копию записи
func (s *MemoryStore) Save(ctx context.Context, record *FrameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if record.IsUser() {
		now := s.now().UTC()
		record.NumEdited = record.Regions.CountEdited()
		record.UpdateTime = &now
	}
	key := keyOf(record)
	s.frames[key] = record.Clone()
	s.saves = append(s.saves, key)
	return nil
}

// FrameCount количество кадров или -1
func (s *MemoryStore) FrameCount(ctx context.Context, expID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.frameCounts[expID]; ok {
		return n, nil
	}
	return -1, nil
}

// Record текущая запись без двухуровневого поиска
func (s *MemoryStore) Record(expID string, frameNo int, username string) (*FrameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.frames[frameKey{expID, frameNo, username}]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Saves количество вызовов Save
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

// SavedFrames номера кадров в порядке сохранения
func (s *MemoryStore) SavedFrames() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.saves))
	for i, k := range s.saves {
		out[i] = k.frameNo
	}
	return out
}

func keyOf(r *FrameRecord) frameKey {
	return frameKey{r.ExperimentID, r.FrameNo, r.Username}
}
