package scoring

import (
	"strings"
	"testing"
	"time"
)

func TestTypingConfigPrompt(t *testing.T) {
	s := NewTypingScorer(12)
	cfg, err := s.NewConfig(3 * time.Minute)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Category != CategoryTyping || cfg.DurationSec != 180 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := len(strings.Fields(cfg.Text)); got != 12 {
		t.Fatalf("expected 12 prompt words, got %d", got)
	}
}

func TestTypingScoreFasterWins(t *testing.T) {
	s := NewTypingScorer(0)
	cfg := &Config{Category: CategoryTyping, DurationSec: 60, Text: "signal harbor velvet canyon gentle"}
	in := Input{
		BattleID: "bt-1",
		Player1:  "alice",
		Player2:  "bob",
		Submissions: map[string]string{
			"alice": "signal harbor velvet canyon gentle",
			"bob":   "signal harbor",
		},
	}
	out, err := s.Score(in, cfg)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if out.Winner != "alice" || out.Loser != "bob" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.WinnerScore != 5 || out.LoserScore != 2 {
		t.Fatalf("unexpected wpm: winner=%v loser=%v", out.WinnerScore, out.LoserScore)
	}
}

func TestTypingScoreTieAndEmpty(t *testing.T) {
	s := NewTypingScorer(0)
	cfg := &Config{Category: CategoryTyping, DurationSec: 60, Text: "signal harbor"}

	// No submission at all still resolves; player1 takes the tie at zero.
	out, err := s.Score(Input{Player1: "alice", Player2: "bob", Submissions: map[string]string{}}, cfg)
	if err != nil {
		t.Fatalf("Score empty: %v", err)
	}
	if out.Winner != "alice" || out.WinnerScore != 0 || out.LoserScore != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestTypingStatsAccuracy(t *testing.T) {
	wpm, acc := typingStats("signal wrong velvet", "signal harbor velvet canyon", 60)
	if wpm != 3 {
		t.Fatalf("expected wpm 3, got %v", wpm)
	}
	if acc < 66 || acc > 67 {
		t.Fatalf("expected accuracy ~66.7, got %v", acc)
	}
}

func TestDispatcherResolveUnknownCategory(t *testing.T) {
	d := NewDispatcher()
	out := d.Resolve("CHESS", Input{BattleID: "bt-1", Player1: "a", Player2: "b"}, nil)
	if !out.Unresolved {
		t.Fatalf("expected unresolved outcome, got %+v", out)
	}
}

func TestDispatcherConfigStampsCategory(t *testing.T) {
	d := NewDispatcher()
	d.Register(CategoryTyping, NewTypingScorer(5))
	if !d.Known(CategoryTyping) || d.Known(CategoryCSS) {
		t.Fatal("Known mismatch")
	}
	cfg, err := d.Config(CategoryTyping, time.Minute)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Category != CategoryTyping {
		t.Fatalf("category not stamped: %+v", cfg)
	}
}

func TestCSSSimilarityOrdering(t *testing.T) {
	s := NewCSSScorer()
	cfg := &Config{Category: CategoryCSS, DurationSec: 60, Target: cssTargets[0]}
	in := Input{
		Player1: "alice",
		Player2: "bob",
		Submissions: map[string]string{
			"alice": cssTargets[0],
			"bob":   `<div class="card"></div>`,
		},
	}
	out, err := s.Score(in, cfg)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if out.Winner != "alice" {
		t.Fatalf("exact match should win: %+v", out)
	}
	if out.WinnerScore != 100 {
		t.Fatalf("exact match should score 100, got %v", out.WinnerScore)
	}
	if out.LoserScore <= 0 || out.LoserScore >= 100 {
		t.Fatalf("partial match should score in (0,100), got %v", out.LoserScore)
	}
}
