package scoring

import (
	"math/rand"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/store"
)

// cssTargets are the reproduction targets handed out for a css battle. The
// original system compared rendered screenshots; scoring here compares the
// submitted source against the target, which keeps the same call contract.
var cssTargets = []string{
	`<div class="card"><div class="circle"></div><div class="bar"></div></div>`,
	`<div class="split"><div class="left"></div><div class="right"></div></div>`,
	`<div class="stack"><span class="dot"></span><span class="dot"></span><span class="dot"></span></div>`,
	`<div class="frame"><div class="inner"><p class="label">hello</p></div></div>`,
}

// CSSScorer ranks players by textual similarity of their submission to the
// target snippet, on a 0..100 scale.
type CSSScorer struct {
	rnd *rand.Rand
}

func NewCSSScorer() *CSSScorer {
	return &CSSScorer{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (c *CSSScorer) NewConfig(duration time.Duration) (*Config, error) {
	return &Config{
		Category:    CategoryCSS,
		DurationSec: int(duration.Seconds()),
		Target:      cssTargets[c.rnd.Intn(len(cssTargets))],
	}, nil
}

func (c *CSSScorer) Score(in Input, cfg *Config) (*store.Outcome, error) {
	s1 := similarity(in.Submissions[in.Player1], cfg.Target) * 100
	s2 := similarity(in.Submissions[in.Player2], cfg.Target) * 100
	if s1 >= s2 {
		return &store.Outcome{Winner: in.Player1, Loser: in.Player2, WinnerScore: s1, LoserScore: s2}, nil
	}
	return &store.Outcome{Winner: in.Player2, Loser: in.Player1, WinnerScore: s2, LoserScore: s1}, nil
}

// similarity is a Dice coefficient over character bigrams, in [0,1].
func similarity(a, b string) float64 {
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		if strings.TrimSpace(a) == strings.TrimSpace(b) {
			return 1
		}
		return 0
	}
	overlap := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	total := 0
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	return 2.0 * float64(overlap) / float64(total)
}

func bigrams(s string) map[string]int {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	out := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}
