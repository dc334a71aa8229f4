package scoring

import (
	"math/rand"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/store"
)

// promptWords feeds the typing prompt generator. A small fixed pool is enough;
// prompts only need to differ between battles, not be unique.
var promptWords = []string{
	"signal", "harbor", "velvet", "canyon", "gentle", "meadow", "silver",
	"thunder", "pocket", "lantern", "copper", "window", "garden", "marble",
	"whisper", "sunset", "ribbon", "forest", "anchor", "breeze", "candle",
	"shadow", "planet", "timber", "hollow", "summit", "orchid", "feather",
	"glacier", "puzzle", "magnet", "saddle", "violet", "mirror", "ember",
}

// TypingScorer ranks players by words per minute over the generated prompt.
type TypingScorer struct {
	words int
	rnd   *rand.Rand
}

func NewTypingScorer(promptLen int) *TypingScorer {
	if promptLen <= 0 {
		promptLen = 20
	}
	return &TypingScorer{
		words: promptLen,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *TypingScorer) NewConfig(duration time.Duration) (*Config, error) {
	parts := make([]string, t.words)
	for i := range parts {
		parts[i] = promptWords[t.rnd.Intn(len(promptWords))]
	}
	return &Config{
		Category:    CategoryTyping,
		DurationSec: int(duration.Seconds()),
		Text:        strings.Join(parts, " "),
	}, nil
}

func (t *TypingScorer) Score(in Input, cfg *Config) (*store.Outcome, error) {
	duration := cfg.DurationSec
	if duration <= 0 {
		duration = in.DurationSec
	}
	if duration <= 0 {
		duration = 60
	}
	wpm1, _ := typingStats(in.Submissions[in.Player1], cfg.Text, duration)
	wpm2, _ := typingStats(in.Submissions[in.Player2], cfg.Text, duration)

	// Tie goes to player1.
	if wpm1 >= wpm2 {
		return &store.Outcome{Winner: in.Player1, Loser: in.Player2, WinnerScore: wpm1, LoserScore: wpm2}, nil
	}
	return &store.Outcome{Winner: in.Player2, Loser: in.Player1, WinnerScore: wpm2, LoserScore: wpm1}, nil
}

// typingStats returns words-per-minute and word-level accuracy of typed
// against original over the given duration. Empty input scores zero.
func typingStats(typed, original string, durationSec int) (wpm, accuracy float64) {
	typedWords := strings.Fields(typed)
	if len(typedWords) == 0 {
		return 0, 0
	}
	originalWords := strings.Fields(original)

	correct := 0
	n := len(typedWords)
	if len(originalWords) < n {
		n = len(originalWords)
	}
	for i := 0; i < n; i++ {
		if typedWords[i] == originalWords[i] {
			correct++
		}
	}

	minutes := float64(durationSec) / 60.0
	wpm = float64(len(typedWords)) / minutes
	accuracy = 100.0 * float64(correct) / float64(len(typedWords))
	return wpm, accuracy
}
