package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/codefarm-realtime/internal/config"
	"github.com/DoyleJ11/codefarm-realtime/internal/httpapi"
	"github.com/DoyleJ11/codefarm-realtime/internal/hub"
	"github.com/DoyleJ11/codefarm-realtime/internal/logger"
	"github.com/DoyleJ11/codefarm-realtime/internal/matchmaking"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
	"github.com/DoyleJ11/codefarm-realtime/internal/store"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
	"github.com/DoyleJ11/codefarm-realtime/internal/ws"
)

type backends struct {
	ratings rating.Store
	wars    war.Store
	guilds  war.Guilds
	seasons season.Store
	friends ws.Friends
	close   func()

	setMember     func(ctx context.Context, playerID, guildID string) error
	addFriendship func(ctx context.Context, a, b string) error
}

func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage; nothing survives a restart")
		wars := war.NewMemoryStore()
		friends := ws.StaticFriends{}
		return &backends{
			ratings: rating.NewMemoryStore(),
			wars:    wars,
			guilds:  wars,
			seasons: season.NewMemoryStore(),
			friends: friends,
			close:   func() {},
			setMember: func(_ context.Context, playerID, guildID string) error {
				wars.SetMember(playerID, guildID)
				return nil
			},
			addFriendship: func(_ context.Context, a, b string) error {
				friends.Add(a, b)
				return nil
			},
		}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	wars := store.NewWarStore(db)
	friends := store.NewFriendStore(db)
	return &backends{
		ratings: store.NewRatingStore(db),
		wars:    wars,
		guilds:  wars,
		seasons: store.NewSeasonStore(db),
		friends: friends,
		close: func() {
			if err := store.Close(db); err != nil {
				log.Warn("error closing database", zap.Error(err))
			}
		},
		setMember:     wars.SetMember,
		addFriendship: friends.AddFriendship,
	}, nil
}

// seed applies SEED_GUILD_MEMBERS and SEED_FRIENDSHIPS to the backends.
func seed(ctx context.Context, cfg *config.Config, b *backends, log *zap.Logger) error {
	members, err := cfg.GuildMembers()
	if err != nil {
		return err
	}
	friendships, err := cfg.Friendships()
	if err != nil {
		return err
	}
	for _, p := range members {
		if err := b.setMember(ctx, p.Left, p.Right); err != nil {
			return err
		}
	}
	for _, p := range friendships {
		if err := b.addFriendship(ctx, p.Left, p.Right); err != nil {
			return err
		}
	}
	if len(members)+len(friendships) > 0 {
		log.Info("seed data applied",
			zap.Int("guild_members", len(members)),
			zap.Int("friendships", len(friendships)),
		)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()
	if err := seed(ctx, cfg, b, log); err != nil {
		return err
	}

	var publisher season.Publisher
	if cfg.RedisAddr != "" {
		mirror, err := store.NewLeaderboardMirror(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			return err
		}
		defer mirror.Close()
		publisher = mirror
	}

	registry := presence.NewRegistry(log, presence.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		OutboxSize:       cfg.OutboxSize,
	})
	h := hub.NewHub(registry, log, cfg.PersistentRoomPrefixes)
	gateway := ws.NewGateway(registry, h, b.friends, log, cfg.CORSOrigins)

	seasons := season.NewService(b.seasons, b.ratings, b.wars, publisher, log, season.Config{
		Epoch:  cfg.SeasonEpoch,
		Length: cfg.SeasonLength,
	})
	// The first tick runs before anything else can create the new season, so a
	// season that ended while the server was down is frozen now.
	rotator := season.NewRotator(seasons, cfg.RotationInterval, log)
	if err := rotator.Tick(ctx); err != nil {
		return err
	}

	mm := matchmaking.NewEngine(b.ratings, seasons, log, matchmaking.Config{
		K:               cfg.EloK,
		InitialRating:   cfg.InitialRating,
		StartTimeout:    cfg.MatchStartTimeout,
		ResultTimeout:   cfg.MatchResultTimeout,
		ToleranceGrowth: cfg.ToleranceGrowth,
		ToleranceStep:   cfg.ToleranceStep,
	})

	wars := war.NewCoordinator(ctx, b.wars, b.guilds, war.LogSettler{Logger: log}, log)
	defer wars.Close()
	recovered, err := wars.Recover(ctx)
	if err != nil {
		return err
	}
	log.Info("live wars recovered", zap.Int("count", recovered))

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Registry:      registry,
			Hub:           h,
			Gateway:       gateway,
			Matchmaking:   mm,
			Ratings:       b.ratings,
			InitialRating: cfg.InitialRating,
			Seasons:       seasons,
			Wars:          wars,
			Logger:        log,
			CORSOrigins:   cfg.CORSOrigins,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// Close sockets first so their disconnect hooks run while everything is alive.
		registry.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				report := mm.Sweep(gctx)
				if report.Paired+report.Cancelled+report.Abandoned > 0 {
					log.Info("matchmaking sweep",
						zap.Int("paired", report.Paired),
						zap.Int("cancelled", report.Cancelled),
						zap.Int("abandoned", report.Abandoned),
					)
				}
			}
		}
	})

	g.Go(func() error {
		return rotator.Run(gctx)
	})

	return g.Wait()
}
