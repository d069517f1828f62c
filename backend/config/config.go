package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

var (
	ErrUnknownStore = errors.New("unknown membership store")
	ErrNoSecret     = errors.New("jwt secret is required")
	ErrBadSeed      = errors.New("membership seed must look like group=user")
)

// Seed is one group membership recorded at startup.
type Seed struct {
	GroupID string
	UserID  string
}

type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      string

	JWTSecret  string
	PrintToken string

	MembershipStore   string
	SQLitePath        string
	Members           []string
	Seeds             []Seed
	MembershipTimeout time.Duration

	NotifyUnavailable bool
	EventsPerSecond   float64
	EventsBurst       int
	ConnectsPerSecond float64
}

// Load reads an optional .env file, then parses args. Environment variables
// provide defaults, flags override them.
func Load(args []string) (*Config, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	var (
		cfg = &Config{}
		fs  = pflag.NewFlagSet("relay", pflag.ContinueOnError)
	)
	fs.StringVarP(&cfg.APIListenAddr, "api-listen-addr", "a", envString("API_LISTEN_ADDR", ":8080"), "api listen address")
	fs.StringVarP(&cfg.WSListenAddr, "ws-listen-addr", "w", envString("WS_LISTEN_ADDR", ":8888"), "websocket listen address")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", envString("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", envString("JWT_SECRET", ""), "secret used to verify identity tokens")
	fs.StringVar(&cfg.PrintToken, "print-token", "", "print a token for user id[:name] and exit")
	fs.StringVar(&cfg.MembershipStore, "membership-store", envString("MEMBERSHIP_STORE", StoreSQLite), "membership store: sqlite or memory")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", envString("SQLITE_PATH", "studygroup.db"), "sqlite database path")
	fs.StringArrayVar(&cfg.Members, "member", envList("MEMBERS"), "group=user membership to seed, repeatable")
	fs.DurationVar(&cfg.MembershipTimeout, "membership-timeout", envDuration("MEMBERSHIP_TIMEOUT", 3*time.Second), "membership lookup timeout")
	fs.BoolVar(&cfg.NotifyUnavailable, "notify-unavailable", envBool("NOTIFY_UNAVAILABLE", false), "tell callers when the signaling target is offline")
	fs.Float64Var(&cfg.EventsPerSecond, "events-per-second", envFloat("EVENTS_PER_SECOND", 20), "inbound events allowed per connection per second")
	fs.IntVar(&cfg.EventsBurst, "events-burst", envInt("EVENTS_BURST", 40), "inbound event burst per connection")
	fs.Float64Var(&cfg.ConnectsPerSecond, "connects-per-second", envFloat("CONNECTS_PER_SECOND", 5), "connection attempts allowed per ip per second")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.MembershipStore {
	case StoreSQLite, StoreMemory:
	default:
		return errors.Join(ErrUnknownStore, errors.New(cfg.MembershipStore))
	}
	if cfg.JWTSecret == "" {
		return ErrNoSecret
	}
	cfg.Seeds = cfg.Seeds[:0]
	for _, pair := range cfg.Members {
		groupID, userID, ok := strings.Cut(pair, "=")
		groupID, userID = strings.TrimSpace(groupID), strings.TrimSpace(userID)
		if !ok || groupID == "" || userID == "" {
			return errors.Join(ErrBadSeed, errors.New(pair))
		}
		cfg.Seeds = append(cfg.Seeds, Seed{GroupID: groupID, UserID: userID})
	}
	return nil
}

// Redacted returns a copy safe to log.
func (cfg *Config) Redacted() Config {
	c := *cfg
	if c.JWTSecret != "" {
		c.JWTSecret = "***"
	}
	return c
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return def
}
