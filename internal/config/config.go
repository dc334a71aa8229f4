package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	NatsURL    string
	WebhookURL string

	// AdminToken guards the force-end endpoint; empty disables it.
	AdminToken string

	ChallengeTTL     time.Duration
	SweepInterval    time.Duration
	ReadinessTimeout time.Duration

	// Battle duration per category; categories absent here fall back to Default.
	DefaultBattleDuration time.Duration
	TypingBattleDuration  time.Duration
	CSSBattleDuration     time.Duration

	TypingPromptWords int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:            ":8080",
		ChallengeTTL:          60 * time.Second,
		SweepInterval:         10 * time.Second,
		ReadinessTimeout:      10 * time.Second,
		DefaultBattleDuration: 300 * time.Second,
		TypingBattleDuration:  180 * time.Second,
		CSSBattleDuration:     600 * time.Second,
		TypingPromptWords:     20,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.NatsURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))

	if d, ok := envSeconds("CHALLENGE_TTL"); ok {
		cfg.ChallengeTTL = d
	}
	if d, ok := envSeconds("CHALLENGE_SWEEP_INTERVAL"); ok {
		cfg.SweepInterval = d
	}
	if d, ok := envSeconds("READINESS_TIMEOUT"); ok {
		cfg.ReadinessTimeout = d
	}
	if d, ok := envSeconds("BATTLE_DURATION_DEFAULT"); ok {
		cfg.DefaultBattleDuration = d
	}
	if d, ok := envSeconds("BATTLE_DURATION_TYPING"); ok {
		cfg.TypingBattleDuration = d
	}
	if d, ok := envSeconds("BATTLE_DURATION_CSS"); ok {
		cfg.CSSBattleDuration = d
	}
	if v := strings.TrimSpace(os.Getenv("TYPING_PROMPT_WORDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TypingPromptWords = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

// envSeconds reads an env var holding a number of seconds.
func envSeconds(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
