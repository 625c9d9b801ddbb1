package war

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

// MemoryStore keeps wars in process. It implements Store and Guilds.
type MemoryStore struct {
	mu            sync.Mutex
	wars          map[string]War
	contributions map[string]map[string]*Contribution // war id -> player id
	members       map[string]string                   // player id -> guild id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wars:          make(map[string]War),
		contributions: make(map[string]map[string]*Contribution),
		members:       make(map[string]string),
	}
}

// SetMember places playerID in guildID. An empty guildID removes the membership.
func (s *MemoryStore) SetMember(playerID, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guildID == "" {
		delete(s.members, playerID)
		return
	}
	s.members[playerID] = guildID
}

func (s *MemoryStore) GuildOf(_ context.Context, playerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.members[playerID]
	if !ok {
		return "", apperr.NotFound("war.GuildOf", "player %s has no guild", playerID)
	}
	return g, nil
}

func (s *MemoryStore) CreateWar(_ context.Context, w War) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wars[w.ID]; ok {
		return apperr.Conflict("war.CreateWar", "war %s already exists", w.ID)
	}
	s.wars[w.ID] = w
	return nil
}

func (s *MemoryStore) GetWar(_ context.Context, id string) (War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[id]
	if !ok {
		return War{}, apperr.NotFound("war.GetWar", "war %s not found", id)
	}
	return w, nil
}

func (s *MemoryStore) StartWar(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[id]
	if !ok {
		return apperr.NotFound("war.StartWar", "war %s not found", id)
	}
	next, err := engine.ApplyWar(w.Status, engine.CmdStart)
	if err != nil {
		return err
	}
	w.Status = next
	s.wars[id] = w
	return nil
}

func (s *MemoryStore) ApplyContribution(_ context.Context, d Delta) error {
	const op = "war.ApplyContribution"

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[d.WarID]
	if !ok {
		return apperr.NotFound(op, "war %s not found", d.WarID)
	}
	if w.Status != engine.WarActive {
		return apperr.InvalidState(op, "war is %s", w.Status)
	}
	isA, ok := w.side(d.GuildID)
	if !ok {
		return apperr.InvalidState(op, "guild %s is not fighting in war %s", d.GuildID, d.WarID)
	}
	if isA {
		w.ScoreA += d.Score
	} else {
		w.ScoreB += d.Score
	}
	s.wars[d.WarID] = w

	byPlayer := s.contributions[d.WarID]
	if byPlayer == nil {
		byPlayer = make(map[string]*Contribution)
		s.contributions[d.WarID] = byPlayer
	}
	c := byPlayer[d.PlayerID]
	if c == nil {
		c = &Contribution{WarID: d.WarID, PlayerID: d.PlayerID, GuildID: d.GuildID, UpdatedAt: d.At}
		byPlayer[d.PlayerID] = c
	}
	c.Score += d.Score
	if d.BattleWon {
		c.BattlesWon++
	}
	// Only score moves the leaderboard tiebreak time of an existing row.
	if d.Score != 0 {
		c.UpdatedAt = d.At
	}
	return nil
}

func (s *MemoryStore) FinishWar(_ context.Context, id, winnerGuildID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[id]
	if !ok {
		return false, apperr.NotFound("war.FinishWar", "war %s not found", id)
	}
	if w.Status != engine.WarActive {
		return false, nil
	}
	w.Status = engine.WarFinished
	w.WinnerGuildID = winnerGuildID
	w.FinishedAt = at
	s.wars[id] = w
	return true, nil
}

func (s *MemoryStore) Contributions(_ context.Context, warID string) ([]Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contribution, 0, len(s.contributions[warID]))
	for _, c := range s.contributions[warID] {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (s *MemoryStore) LiveWars(_ context.Context) ([]War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []War
	for _, w := range s.wars {
		if !w.Status.Terminal() {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkSettled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[id]
	if !ok {
		return apperr.NotFound("war.MarkSettled", "war %s not found", id)
	}
	if w.SettledAt.IsZero() {
		w.SettledAt = at
		s.wars[id] = w
	}
	return nil
}

func (s *MemoryStore) UnsettledWars(_ context.Context) ([]War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []War
	for _, w := range s.wars {
		if w.Status == engine.WarFinished && w.SettledAt.IsZero() {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PlayerTotals sums contributions per player over wars started in [from, to).
func (s *MemoryStore) PlayerTotals(_ context.Context, from, to time.Time) ([]PlayerTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]*PlayerTotal)
	for warID, byPlayer := range s.contributions {
		w := s.wars[warID]
		if w.StartTime.Before(from) || !w.StartTime.Before(to) {
			continue
		}
		for _, c := range byPlayer {
			t := totals[c.PlayerID]
			if t == nil {
				t = &PlayerTotal{PlayerID: c.PlayerID}
				totals[c.PlayerID] = t
			}
			t.Score += c.Score
			if c.UpdatedAt.After(t.ReachedAt) {
				t.ReachedAt = c.UpdatedAt
			}
		}
	}

	out := make([]PlayerTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}
