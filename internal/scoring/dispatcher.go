package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"go.uber.org/zap"
)

var ErrUnknownCategory = errors.New("unknown battle category")

const (
	CategoryTyping = "TYPING"
	CategoryCSS    = "CSS"
)

// Config is the per-battle parameter payload handed to both players at battle
// start and back to the scorer at battle end.
type Config struct {
	Category    string `json:"category"`
	DurationSec int    `json:"duration_sec"`
	// Typing prompt text.
	Text string `json:"text,omitempty"`
	// CSS target snippet to reproduce.
	Target string `json:"target,omitempty"`
}

// Input is everything a scorer gets about a finished battle. A player with no
// submission is scored on empty input, never rejected.
type Input struct {
	BattleID    string
	Player1     string
	Player2     string
	Submissions map[string]string
	DurationSec int
}

type Scorer interface {
	NewConfig(duration time.Duration) (*Config, error)
	Score(in Input, cfg *Config) (*store.Outcome, error)
}

// Dispatcher routes config generation and score resolution to the scorer
// registered for a battle category.
type Dispatcher struct {
	mu      sync.RWMutex
	scorers map[string]Scorer
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{scorers: make(map[string]Scorer)}
}

func (d *Dispatcher) Register(category string, s Scorer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scorers[category] = s
}

func (d *Dispatcher) scorer(category string) (Scorer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.scorers[category]
	return s, ok
}

// Known reports whether a category has a registered scorer. Used to reject
// challenges for categories the engine cannot score.
func (d *Dispatcher) Known(category string) bool {
	_, ok := d.scorer(category)
	return ok
}

func (d *Dispatcher) Config(category string, duration time.Duration) (*Config, error) {
	s, ok := d.scorer(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	cfg, err := s.NewConfig(duration)
	if err != nil {
		return nil, err
	}
	cfg.Category = category
	return cfg, nil
}

// Resolve scores an ended battle. Scorer failures never propagate: the battle
// must reach ENDED regardless, so failures come back as an unresolved outcome.
func (d *Dispatcher) Resolve(category string, in Input, rawConfig json.RawMessage) *store.Outcome {
	s, ok := d.scorer(category)
	if !ok {
		return unresolved("unknown category: " + category)
	}
	var cfg Config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			obslog.L().Error("score_config_decode_error",
				zap.String("battle_id", in.BattleID),
				zap.String("category", category),
				zap.Error(err),
			)
			return unresolved("config decode failed")
		}
	}
	out, err := s.Score(in, &cfg)
	if err != nil || out == nil {
		obslog.L().Error("score_resolve_error",
			zap.String("battle_id", in.BattleID),
			zap.String("category", category),
			zap.Error(err),
		)
		return unresolved("scoring failed")
	}
	return out
}

func unresolved(reason string) *store.Outcome {
	return &store.Outcome{Unresolved: true, Reason: reason}
}
