package season

import (
	"context"
	"sync"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

type MemoryStore struct {
	mu        sync.Mutex
	seasons   map[string]Season
	snapshots map[boardKey][]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seasons:   make(map[string]Season),
		snapshots: make(map[boardKey][]Snapshot),
	}
}

func (m *MemoryStore) CreateSeason(_ context.Context, s Season) (Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.seasons[s.ID]; ok {
		return existing, nil
	}
	for id, other := range m.seasons {
		other.Active = false
		m.seasons[id] = other
	}
	s.Active = true
	m.seasons[s.ID] = s
	return s, nil
}

func (m *MemoryStore) ActiveSeason(_ context.Context) (Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seasons {
		if s.Active {
			return s, nil
		}
	}
	return Season{}, apperr.NotFound("season.ActiveSeason", "no active season")
}

func (m *MemoryStore) SeasonBefore(_ context.Context, number int) (Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best Season
	for _, s := range m.seasons {
		if s.Number < number && s.Number > best.Number {
			best = s
		}
	}
	if best.ID == "" {
		return Season{}, apperr.NotFound("season.SeasonBefore", "no season before %d", number)
	}
	return best, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Entries = append([]Entry(nil), snap.Entries...)
	k := boardKey{snap.SeasonID, snap.Category}
	m.snapshots[k] = append(m.snapshots[k], snap)
	return nil
}

func (m *MemoryStore) LatestSnapshot(_ context.Context, seasonID string, category Category) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snapshots[boardKey{seasonID, category}]
	if len(list) == 0 {
		return Snapshot{}, apperr.NotFound("season.LatestSnapshot", "no %s snapshot for %s", category, seasonID)
	}
	snap := list[len(list)-1]
	snap.Entries = append([]Entry(nil), snap.Entries...)
	return snap, nil
}

// Snapshots returns every snapshot for the board, oldest first.
func (m *MemoryStore) Snapshots(_ context.Context, seasonID string, category Category) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snapshots[boardKey{seasonID, category}]
	out := make([]Snapshot, len(list))
	for i, snap := range list {
		snap.Entries = append([]Entry(nil), snap.Entries...)
		out[i] = snap
	}
	return out, nil
}
