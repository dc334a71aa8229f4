package battledto

import "time"

// ChallengeView is the outward projection of a challenge record.
type ChallengeView struct {
	ID                   string    `json:"id"`
	Sender               string    `json:"sender"`
	Recipient            string    `json:"recipient"`
	Category             string    `json:"category"`
	Status               string    `json:"status"`
	BattleID             string    `json:"battle_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	TimeRemainingSeconds int64     `json:"time_remaining_seconds,omitempty"`
}

// ChallengeEvent is the notification payload sent on challenge transitions.
type ChallengeEvent struct {
	Challenge *ChallengeView `json:"challenge"`
	Message   string         `json:"message,omitempty"`
}
