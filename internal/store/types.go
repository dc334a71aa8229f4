package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ChallengeStatus is the challenge state machine. PENDING is the only
// non-terminal state; ACCEPTED challenges are inert but keep their record.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "PENDING"
	ChallengeAccepted  ChallengeStatus = "ACCEPTED"
	ChallengeDeclined  ChallengeStatus = "DECLINED"
	ChallengeCancelled ChallengeStatus = "CANCELLED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
)

// BattleStatus is the battle state machine. The only edges are
// WAITING->ONGOING, WAITING->CANCELED and ONGOING->ENDED.
type BattleStatus string

const (
	BattleWaiting  BattleStatus = "WAITING"
	BattleOngoing  BattleStatus = "ONGOING"
	BattleCanceled BattleStatus = "CANCELED"
	BattleEnded    BattleStatus = "ENDED"
)

type Challenge struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Category  string          `json:"category"`
	Status    ChallengeStatus `json:"status"`
	BattleID  string          `json:"battle_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Outcome is the resolved result of an ended battle. Unresolved marks battles
// whose scorer failed; they are still terminal.
type Outcome struct {
	Winner      string  `json:"winner,omitempty"`
	Loser       string  `json:"loser,omitempty"`
	WinnerScore float64 `json:"winner_score"`
	LoserScore  float64 `json:"loser_score"`
	Unresolved  bool    `json:"unresolved,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

type BattleRecord struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Player1     string          `json:"player1"`
	Player2     string          `json:"player2"`
	Status      BattleStatus    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DurationSec int             `json:"duration_sec"`
	EndReason   string          `json:"end_reason,omitempty"`
	Result      *Outcome        `json:"result,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

var (
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned to the loser of a status CAS: the record
	// exists but its status no longer matches the expected source state.
	ErrStatusConflict   = errors.New("status transition conflict")
	ErrDuplicatePending = errors.New("pending challenge already exists for pair")
)
