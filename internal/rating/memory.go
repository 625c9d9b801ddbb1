package rating

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

type recordKey struct {
	season string
	player string
}

// MemoryStore is the in-process Store used by tests and STORAGE_DRIVER=memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record), now: time.Now}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, seasonID, playerID string, initial int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{seasonID, playerID}
	if r, ok := s.records[key]; ok {
		return r, nil
	}
	r := NewRecord(seasonID, playerID, initial, s.now())
	s.records[key] = r
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, seasonID, playerID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordKey{seasonID, playerID}]
	if !ok {
		return Record{}, apperr.NotFound("rating.Get", "no rating for player %s in %s", playerID, seasonID)
	}
	return r, nil
}

func (s *MemoryStore) ApplyResult(_ context.Context, a, b Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ka := recordKey{a.SeasonID, a.PlayerID}
	kb := recordKey{b.SeasonID, b.PlayerID}
	for _, pair := range []struct {
		key recordKey
		rec Record
	}{{ka, a}, {kb, b}} {
		current, ok := s.records[pair.key]
		if !ok {
			return apperr.NotFound("rating.ApplyResult", "no rating for player %s", pair.rec.PlayerID)
		}
		if current.Version != pair.rec.Version {
			return apperr.Conflict("rating.ApplyResult", "rating for %s changed concurrently", pair.rec.PlayerID)
		}
	}

	a.Version++
	b.Version++
	s.records[ka] = a
	s.records[kb] = b
	return nil
}

// Put overwrites a record. Used to seed fixtures.
func (s *MemoryStore) Put(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{r.SeasonID, r.PlayerID}] = r
}

func (s *MemoryStore) List(_ context.Context, seasonID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for k, r := range s.records {
		if k.season == seasonID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}
