package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
)

// maxRatingAttempts bounds retries of a rating write that lost an optimistic race.
const maxRatingAttempts = 3

type Config struct {
	K             int
	InitialRating int
	// StartTimeout cancels waiting matches nobody started.
	StartTimeout time.Duration
	// ResultTimeout settles active matches with no result as a draw.
	ResultTimeout time.Duration
	// ToleranceGrowth widens a queued ticket's tolerance by this much per ToleranceStep waited.
	ToleranceGrowth int
	ToleranceStep   time.Duration
}

func DefaultConfig() Config {
	return Config{
		K:             engine.DefaultK,
		InitialRating: 1000,
		StartTimeout:  10 * time.Minute,
		ResultTimeout: 2 * time.Hour,
		ToleranceStep: 30 * time.Second,
	}
}

// SeasonResolver names the season whose ratings new matches are played for.
type SeasonResolver interface {
	CurrentSeasonID(ctx context.Context) (string, error)
}

type Ticket struct {
	PlayerID   string    `json:"player_id"`
	Rating     int       `json:"rating"`
	Tolerance  int       `json:"tolerance"`
	SeasonID   string    `json:"season_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Match struct {
	ID         string             `json:"id"`
	SeasonID   string             `json:"season_id"`
	PlayerA    string             `json:"player_a"`
	PlayerB    string             `json:"player_b"`
	ScoreA     int                `json:"score_a"`
	ScoreB     int                `json:"score_b"`
	Status     engine.MatchStatus `json:"status"`
	WinnerID   string             `json:"winner_id,omitempty"`
	DeltaA     int                `json:"delta_a"`
	DeltaB     int                `json:"delta_b"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  time.Time          `json:"started_at,omitzero"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
}

// EnqueueResult holds exactly one of Ticket (still queued) or Match (paired).
type EnqueueResult struct {
	Ticket *Ticket
	Match  *Match
}

type matchEntry struct {
	mu    sync.Mutex
	match Match
}

type Engine struct {
	ratings rating.Store
	seasons SeasonResolver
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time

	// qmu guards the queue and the player→match index.
	qmu     sync.Mutex
	queue   []*Ticket
	queued  map[string]*Ticket
	inMatch map[string]string

	mmu     sync.RWMutex
	matches map[string]*matchEntry
}

func NewEngine(ratings rating.Store, seasons SeasonResolver, logger *zap.Logger, cfg Config) *Engine {
	if cfg.K <= 0 {
		cfg.K = engine.DefaultK
	}
	if cfg.ToleranceStep <= 0 {
		cfg.ToleranceStep = DefaultConfig().ToleranceStep
	}
	return &Engine{
		ratings: ratings,
		seasons: seasons,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		queued:  make(map[string]*Ticket),
		inMatch: make(map[string]string),
		matches: make(map[string]*matchEntry),
	}
}

// Enqueue queues playerID or pairs it immediately with the closest-rated ticket
// within tolerance. Equal distances go to the earliest ticket.
func (e *Engine) Enqueue(ctx context.Context, playerID string, tolerance int) (EnqueueResult, error) {
	const op = "matchmaking.Enqueue"
	if playerID == "" {
		return EnqueueResult{}, apperr.Protocol(op, "player id is required")
	}
	if tolerance < 0 {
		return EnqueueResult{}, apperr.Protocol(op, "rating tolerance must not be negative")
	}

	seasonID, err := e.seasons.CurrentSeasonID(ctx)
	if err != nil {
		return EnqueueResult{}, err
	}
	rec, err := e.ratings.GetOrCreate(ctx, seasonID, playerID, e.cfg.InitialRating)
	if err != nil {
		return EnqueueResult{}, err
	}

	e.qmu.Lock()
	defer e.qmu.Unlock()

	if _, ok := e.queued[playerID]; ok {
		return EnqueueResult{}, apperr.Conflict(op, "player %s is already queued", playerID)
	}
	if id, ok := e.inMatch[playerID]; ok {
		return EnqueueResult{}, apperr.Conflict(op, "player %s is already in match %s", playerID, id)
	}

	t := &Ticket{
		PlayerID:   playerID,
		Rating:     rec.Rating,
		Tolerance:  tolerance,
		SeasonID:   seasonID,
		EnqueuedAt: e.now(),
	}

	if opp := e.closestLocked(t, tolerance); opp != nil {
		m := e.pairLocked(opp, t)
		e.logger.Info("match created",
			zap.String("match_id", m.ID),
			zap.String("player_a", m.PlayerA),
			zap.String("player_b", m.PlayerB),
			zap.Int("rating_gap", abs(opp.Rating-t.Rating)),
		)
		return EnqueueResult{Match: &m}, nil
	}

	e.queue = append(e.queue, t)
	e.queued[playerID] = t
	e.logger.Debug("ticket queued",
		zap.String("player_id", playerID),
		zap.Int("rating", t.Rating),
		zap.Int("tolerance", tolerance),
	)
	ticket := *t
	return EnqueueResult{Ticket: &ticket}, nil
}

// closestLocked scans in enqueue order, so keeping only strictly closer
// candidates leaves the earliest one on ties.
func (e *Engine) closestLocked(t *Ticket, tolerance int) *Ticket {
	var best *Ticket
	bestGap := 0
	for _, c := range e.queue {
		if c.PlayerID == t.PlayerID || c.SeasonID != t.SeasonID {
			continue
		}
		gap := abs(c.Rating - t.Rating)
		if gap > tolerance {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = c, gap
		}
	}
	return best
}

// pairLocked consumes both tickets and registers a waiting match.
func (e *Engine) pairLocked(first, second *Ticket) Match {
	e.removeLocked(first.PlayerID)
	e.removeLocked(second.PlayerID)

	m := Match{
		ID:        uuid.NewString(),
		SeasonID:  second.SeasonID,
		PlayerA:   first.PlayerID,
		PlayerB:   second.PlayerID,
		Status:    engine.MatchWaiting,
		CreatedAt: e.now(),
	}
	e.inMatch[m.PlayerA] = m.ID
	e.inMatch[m.PlayerB] = m.ID

	e.mmu.Lock()
	e.matches[m.ID] = &matchEntry{match: m}
	e.mmu.Unlock()
	return m
}

func (e *Engine) removeLocked(playerID string) bool {
	if _, ok := e.queued[playerID]; !ok {
		return false
	}
	delete(e.queued, playerID)
	for i, t := range e.queue {
		if t.PlayerID == playerID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	return true
}

// Cancel drops the player's ticket. It reports false when nothing was queued,
// which includes tickets already consumed by pairing.
func (e *Engine) Cancel(playerID string) bool {
	e.qmu.Lock()
	removed := e.removeLocked(playerID)
	e.qmu.Unlock()
	if removed {
		e.logger.Debug("ticket cancelled", zap.String("player_id", playerID))
	}
	return removed
}

func (e *Engine) QueueSize() int {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return len(e.queue)
}

func (e *Engine) Ticket(playerID string) (Ticket, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	t, ok := e.queued[playerID]
	if !ok {
		return Ticket{}, false
	}
	return *t, true
}

// MatchFor returns the player's current non-terminal match.
func (e *Engine) MatchFor(playerID string) (Match, bool) {
	e.qmu.Lock()
	id, ok := e.inMatch[playerID]
	e.qmu.Unlock()
	if !ok {
		return Match{}, false
	}
	m, err := e.Match(id)
	if err != nil {
		return Match{}, false
	}
	return m, true
}

func (e *Engine) entry(op, matchID string) (*matchEntry, error) {
	e.mmu.RLock()
	me, ok := e.matches[matchID]
	e.mmu.RUnlock()
	if !ok {
		return nil, apperr.NotFound(op, "match %s not found", matchID)
	}
	return me, nil
}

func (e *Engine) Match(matchID string) (Match, error) {
	me, err := e.entry("matchmaking.Match", matchID)
	if err != nil {
		return Match{}, err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.match, nil
}

// Start moves a waiting match to active.
func (e *Engine) Start(matchID string) (Match, error) {
	me, err := e.entry("matchmaking.Start", matchID)
	if err != nil {
		return Match{}, err
	}
	me.mu.Lock()
	defer me.mu.Unlock()

	next, err := engine.ApplyMatch(me.match.Status, engine.CmdStart)
	if err != nil {
		return me.match, err
	}
	me.match.Status = next
	me.match.StartedAt = e.now()
	e.logger.Info("match started", zap.String("match_id", matchID))
	return me.match, nil
}

// SubmitResult finishes an active match and applies the Elo update to both
// players' rating records in one write. winnerID empty means a draw.
func (e *Engine) SubmitResult(ctx context.Context, matchID, winnerID string, scoreA, scoreB int) (Match, error) {
	me, err := e.entry("matchmaking.SubmitResult", matchID)
	if err != nil {
		return Match{}, err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return e.finishLocked(ctx, me, winnerID, scoreA, scoreB)
}

func (e *Engine) finishLocked(ctx context.Context, me *matchEntry, winnerID string, scoreA, scoreB int) (Match, error) {
	const op = "matchmaking.SubmitResult"
	m := me.match

	next, err := engine.ApplyMatch(m.Status, engine.CmdFinish)
	if err != nil {
		return m, err
	}

	var outcomeA engine.Outcome
	switch winnerID {
	case m.PlayerA:
		outcomeA = engine.Win
	case m.PlayerB:
		outcomeA = engine.Loss
	case "":
		outcomeA = engine.Draw
	default:
		return m, apperr.Protocol(op, "winner %s is not a participant of match %s", winnerID, m.ID)
	}

	var before, after [2]rating.Record
	for attempt := 1; ; attempt++ {
		before, after, err = e.settleRatings(ctx, m, outcomeA)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxRatingAttempts {
			e.logger.Warn("rating update failed",
				zap.String("match_id", m.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return m, err
		}
	}

	m.Status = next
	m.WinnerID = winnerID
	m.ScoreA, m.ScoreB = scoreA, scoreB
	m.DeltaA = after[0].Rating - before[0].Rating
	m.DeltaB = after[1].Rating - before[1].Rating
	m.FinishedAt = e.now()
	me.match = m

	e.releasePlayers(m)
	e.logger.Info("match finished",
		zap.String("match_id", m.ID),
		zap.String("winner_id", winnerID),
		zap.Int("delta_a", m.DeltaA),
		zap.Int("delta_b", m.DeltaB),
	)
	return m, nil
}

func (e *Engine) settleRatings(ctx context.Context, m Match, outcomeA engine.Outcome) (before, after [2]rating.Record, err error) {
	a, err := e.ratings.GetOrCreate(ctx, m.SeasonID, m.PlayerA, e.cfg.InitialRating)
	if err != nil {
		return before, after, err
	}
	b, err := e.ratings.GetOrCreate(ctx, m.SeasonID, m.PlayerB, e.cfg.InitialRating)
	if err != nil {
		return before, after, err
	}
	na, nb := rating.Settle(a, b, outcomeA, e.cfg.K, e.now())
	if err := e.ratings.ApplyResult(ctx, na, nb); err != nil {
		return before, after, err
	}
	return [2]rating.Record{a, b}, [2]rating.Record{na, nb}, nil
}

func (e *Engine) releasePlayers(m Match) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	for _, p := range []string{m.PlayerA, m.PlayerB} {
		if e.inMatch[p] == m.ID {
			delete(e.inMatch, p)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
