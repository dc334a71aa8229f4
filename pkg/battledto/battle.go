package battledto

import (
	"encoding/json"
	"time"
)

// BattleView is the outward projection of a battle record.
type BattleView struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Player1     string          `json:"player1"`
	Player2     string          `json:"player2"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	DurationSec int             `json:"duration_sec"`
	EndReason   string          `json:"end_reason,omitempty"`
	Result      *OutcomeView    `json:"result,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type OutcomeView struct {
	Winner      string  `json:"winner,omitempty"`
	Loser       string  `json:"loser,omitempty"`
	WinnerScore float64 `json:"winner_score"`
	LoserScore  float64 `json:"loser_score"`
	Unresolved  bool    `json:"unresolved,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// BattleEvent is the payload attached to battle lifecycle notifications.
type BattleEvent struct {
	BattleID   string          `json:"battle_id"`
	Category   string          `json:"category"`
	Opponent   string          `json:"opponent"`
	Message    string          `json:"message,omitempty"`
	TimeoutSec int             `json:"timeout_sec,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Result     *OutcomeView    `json:"result,omitempty"`
}
