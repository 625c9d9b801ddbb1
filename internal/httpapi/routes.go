package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/hub"
	"github.com/DoyleJ11/codefarm-realtime/internal/matchmaking"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

// Deps is everything the HTTP surface talks to.
type Deps struct {
	Registry    *presence.Registry
	Hub         *hub.Hub
	Gateway     http.Handler
	Matchmaking *matchmaking.Engine
	Ratings     rating.Store
	// InitialRating is given to players looked up before their first match.
	InitialRating int
	Seasons       *season.Service
	Wars          *war.Coordinator
	Logger        *zap.Logger
	CORSOrigins   []string
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	r.Get("/healthz", Healthz)
	r.Get("/ws", d.Gateway.ServeHTTP)
	r.Get("/presence/online", OnlinePlayers(d.Registry))

	r.Route("/matchmaking/queue", func(r chi.Router) {
		r.Post("/", Enqueue(d.Matchmaking))
		r.Delete("/{playerID}", CancelTicket(d.Matchmaking))
	})
	r.Route("/matches/{id}", func(r chi.Router) {
		r.Get("/", GetMatch(d.Matchmaking))
		r.Post("/start", StartMatch(d.Matchmaking))
		r.Post("/result", SubmitResult(d.Matchmaking))
	})
	r.Get("/ratings/{playerID}", GetRating(d.Ratings, d.Seasons, d.InitialRating))

	r.Route("/wars", func(r chi.Router) {
		r.Post("/", CreateWar(d.Wars))
		r.Get("/{id}", GetWar(d.Wars))
		r.Post("/{id}/start", StartWar(d.Wars))
		r.Post("/{id}/contributions", Contribute(d.Wars))
		r.Post("/{id}/end", EndWar(d.Wars))
	})

	r.Get("/seasons/current", CurrentSeason(d.Seasons))
	r.Route("/leaderboards", func(r chi.Router) {
		r.Post("/snapshots", TakeSnapshot(d.Seasons))
		r.Get("/{category}", GetLeaderboard(d.Seasons))
		r.Post("/{category}/refresh", RefreshLeaderboard(d.Seasons))
		r.Get("/{category}/snapshots", ListSnapshots(d.Seasons))
		r.Get("/{category}/snapshots/latest", LatestSnapshot(d.Seasons))
	})

	// Called by other backend services, not by players.
	r.Route("/internal", func(r chi.Router) {
		r.Post("/notify/{identity}", NotifyPlayer(d.Hub))
		r.Post("/rooms/{roomID}/notify", NotifyRoom(d.Hub))
	})
	return r
}
