package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/hub"
	"github.com/DoyleJ11/codefarm-realtime/internal/matchmaking"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
	itypes "github.com/DoyleJ11/codefarm-realtime/internal/types"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
	"github.com/DoyleJ11/codefarm-realtime/pkg/types"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, apperr.HTTPStatus(err), types.ErrorResponse{
		Error:   string(apperr.KindOf(err)),
		Message: apperr.Message(err),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Protocol("httpapi.decode", "invalid request body: %v", err)
	}
	return nil
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func OnlinePlayers(reg *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := reg.Identities()
		respondJSON(w, http.StatusOK, types.OnlineResponse{Count: len(ids), Identities: ids})
	}
}

func Enqueue(mm *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.EnqueueRequest
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
		res, err := mm.Enqueue(r.Context(), req.PlayerID, req.Tolerance)
		if err != nil {
			respondError(w, err)
			return
		}
		if res.Match != nil {
			respondJSON(w, http.StatusCreated, types.EnqueueResponse{Match: res.Match})
			return
		}
		respondJSON(w, http.StatusAccepted, types.EnqueueResponse{Queued: true, Ticket: res.Ticket})
	}
}

func CancelTicket(mm *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok := mm.Cancel(chi.URLParam(r, "playerID"))
		respondJSON(w, http.StatusOK, types.CancelResponse{Cancelled: ok})
	}
}

func GetMatch(mm *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := mm.Match(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

func StartMatch(mm *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := mm.Start(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

func SubmitResult(mm *matchmaking.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ResultRequest
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
		m, err := mm.SubmitResult(r.Context(), chi.URLParam(r, "id"), req.WinnerID, req.ScoreA, req.ScoreB)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

// seasonParam returns the ?season= query value, defaulting to the current season.
func seasonParam(r *http.Request, seasons *season.Service) (string, error) {
	if id := r.URL.Query().Get("season"); id != "" {
		return id, nil
	}
	return seasons.CurrentSeasonID(r.Context())
}

// GetRating returns the player's record for ?season=. A player without one gets
// a fresh record at the initial rating, the same way matchmaking seeds them.
func GetRating(ratings rating.Store, seasons *season.Service, initial int) http.HandlerFunc {
	if initial <= 0 {
		initial = matchmaking.DefaultConfig().InitialRating
	}
	return func(w http.ResponseWriter, r *http.Request) {
		seasonID, err := seasonParam(r, seasons)
		if err != nil {
			respondError(w, err)
			return
		}
		rec, err := ratings.GetOrCreate(r.Context(), seasonID, chi.URLParam(r, "playerID"), initial)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rec)
	}
}

func CreateWar(wars *war.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateWarRequest
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
		wr, err := wars.CreateWar(r.Context(), req.GuildA, req.GuildB, time.Duration(req.DurationSeconds)*time.Second, req.RewardPool)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, wr)
	}
}

func GetWar(wars *war.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		wr, err := wars.GetWar(r.Context(), id)
		if err != nil {
			respondError(w, err)
			return
		}
		contribs, err := wars.Contributions(r.Context(), id)
		if err != nil {
			respondError(w, err)
			return
		}
		if contribs == nil {
			contribs = []war.Contribution{}
		}
		respondJSON(w, http.StatusOK, types.WarResponse{War: wr, Contributions: contribs})
	}
}

func StartWar(wars *war.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wr, err := wars.StartWar(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, wr)
	}
}

func Contribute(wars *war.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ContributionRequest
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, err)
			return
		}
		wr, err := wars.Contribute(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Score, req.BattleWon)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, wr)
	}
}

func EndWar(wars *war.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wr, err := wars.EndWar(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, wr)
	}
}

func CurrentSeason(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := seasons.Current(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s)
	}
}

func categoryParam(r *http.Request) (season.Category, error) {
	return season.ParseCategory(chi.URLParam(r, "category"))
}

func GetLeaderboard(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := categoryParam(r)
		if err != nil {
			respondError(w, err)
			return
		}
		b, err := seasons.Board(r.Context(), cat)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, b)
	}
}

func RefreshLeaderboard(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := categoryParam(r)
		if err != nil {
			respondError(w, err)
			return
		}
		b, err := seasons.UpdateLeaderboard(r.Context(), cat)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, b)
	}
}

func TakeSnapshot(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps, err := seasons.Snapshot(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, snaps)
	}
}

func LatestSnapshot(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := categoryParam(r)
		if err != nil {
			respondError(w, err)
			return
		}
		seasonID, err := seasonParam(r, seasons)
		if err != nil {
			respondError(w, err)
			return
		}
		snap, err := seasons.LatestSnapshot(r.Context(), seasonID, cat)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	}
}

// ListSnapshots returns every snapshot of a category for ?season=, oldest first.
func ListSnapshots(seasons *season.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := categoryParam(r)
		if err != nil {
			respondError(w, err)
			return
		}
		seasonID, err := seasonParam(r, seasons)
		if err != nil {
			respondError(w, err)
			return
		}
		snaps, err := seasons.Snapshots(r.Context(), seasonID, cat)
		if err != nil {
			respondError(w, err)
			return
		}
		if snaps == nil {
			snaps = []season.Snapshot{}
		}
		respondJSON(w, http.StatusOK, snaps)
	}
}

func decodeNotification(w http.ResponseWriter, r *http.Request) (itypes.Event, error) {
	var req types.NotifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		return itypes.Event{}, err
	}
	return itypes.Notification(itypes.EventType(req.Type), req.From, req.Data)
}

// NotifyPlayer pushes a server event to one identity. Offline players are not
// queued for; the response says whether anything was delivered.
func NotifyPlayer(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := decodeNotification(w, r)
		if err != nil {
			respondError(w, err)
			return
		}
		delivered := 0
		if h.Notify(chi.URLParam(r, "identity"), ev) {
			delivered = 1
		}
		respondJSON(w, http.StatusOK, types.NotifyResponse{Delivered: delivered})
	}
}

func NotifyRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := decodeNotification(w, r)
		if err != nil {
			respondError(w, err)
			return
		}
		n, err := h.NotifyRoom(chi.URLParam(r, "roomID"), ev)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, types.NotifyResponse{Delivered: n})
	}
}
