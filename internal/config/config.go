package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment  bool          `env:"LOG_DEVELOPMENT" envDefault:"false"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HeartbeatInterval      time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatMisses        int           `env:"HEARTBEAT_MISSES" envDefault:"3"`
	OutboxSize             int           `env:"OUTBOX_SIZE" envDefault:"64"`
	PersistentRoomPrefixes []string      `env:"PERSISTENT_ROOM_PREFIXES" envDefault:"guild:"`

	EloK               int           `env:"ELO_K" envDefault:"32"`
	InitialRating      int           `env:"INITIAL_RATING" envDefault:"1000"`
	MatchStartTimeout  time.Duration `env:"MATCH_START_TIMEOUT" envDefault:"10m"`
	MatchResultTimeout time.Duration `env:"MATCH_RESULT_TIMEOUT" envDefault:"2h"`
	ToleranceGrowth    int           `env:"TOLERANCE_GROWTH" envDefault:"0"`
	ToleranceStep      time.Duration `env:"TOLERANCE_STEP" envDefault:"30s"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`

	SeasonEpoch      time.Time     `env:"SEASON_EPOCH" envDefault:"2024-01-01T00:00:00Z"`
	SeasonLength     time.Duration `env:"SEASON_LENGTH" envDefault:"672h"`
	RotationInterval time.Duration `env:"ROTATION_INTERVAL" envDefault:"1m"`

	// Startup seed data as "player:guild" and "a:b" pairs. The memory driver has
	// no other source for guild membership or friendships.
	SeedGuildMembers []string `env:"SEED_GUILD_MEMBERS"`
	SeedFriendships  []string `env:"SEED_FRIENDSHIPS"`
}

// Pair is one "left:right" seed entry.
type Pair struct {
	Left  string
	Right string
}

func parsePairs(name string, raw []string) ([]Pair, error) {
	out := make([]Pair, 0, len(raw))
	for _, item := range raw {
		left, right, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || left == "" || right == "" {
			return nil, fmt.Errorf("%s entry %q is not of the form a:b", name, item)
		}
		out = append(out, Pair{Left: left, Right: right})
	}
	return out, nil
}

// GuildMembers returns SEED_GUILD_MEMBERS as player/guild pairs.
func (c *Config) GuildMembers() ([]Pair, error) {
	return parsePairs("SEED_GUILD_MEMBERS", c.SeedGuildMembers)
}

// Friendships returns SEED_FRIENDSHIPS; each pair is a mutual friendship.
func (c *Config) Friendships() ([]Pair, error) {
	return parsePairs("SEED_FRIENDSHIPS", c.SeedFriendships)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatMisses <= 0 {
		return errors.New("heartbeat interval and misses must be positive")
	}
	if c.OutboxSize <= 0 {
		return errors.New("OUTBOX_SIZE must be positive")
	}
	if c.EloK <= 0 {
		return errors.New("ELO_K must be positive")
	}
	if c.SeasonLength <= 0 {
		return errors.New("SEASON_LENGTH must be positive")
	}
	if c.SweepInterval <= 0 || c.RotationInterval <= 0 {
		return errors.New("SWEEP_INTERVAL and ROTATION_INTERVAL must be positive")
	}
	if _, err := c.GuildMembers(); err != nil {
		return err
	}
	if _, err := c.Friendships(); err != nil {
		return err
	}
	return nil
}

// HeartbeatTimeout is how long a connection may stay silent before it is declared dead.
func (c *Config) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatMisses)
}
