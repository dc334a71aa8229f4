package notify

import (
	"context"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"go.uber.org/zap"
)

// Event names every notification the engine can emit.
type Event string

const (
	EventChallengeReceived  Event = "CHALLENGE_RECEIVED"
	EventChallengeSent      Event = "CHALLENGE_SENT"
	EventChallengeAccepted  Event = "CHALLENGE_ACCEPTED"
	EventChallengeDeclined  Event = "CHALLENGE_DECLINED"
	EventChallengeCancelled Event = "CHALLENGE_CANCELLED"
	EventChallengeExpired   Event = "CHALLENGE_EXPIRED"

	EventBattleWaiting  Event = "BATTLE_WAITING"
	EventBattleStart    Event = "BATTLE_START"
	EventBattleCanceled Event = "BATTLE_CANCELED"
	EventBattleResult   Event = "BATTLE_RESULT"
)

// Envelope is the wire shape every sink receives.
type Envelope struct {
	Username string    `json:"username"`
	Event    Event     `json:"event"`
	Payload  any       `json:"payload,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Notifier delivers a single user notification. Delivery is fire-and-forget
// and at-least-once; implementations log failures instead of returning them,
// so a broken sink can never block a state transition.
type Notifier interface {
	Notify(ctx context.Context, username string, event Event, payload any)
}

// LogNotifier writes notifications to the process log. Used standalone in
// development and as the always-on tail of the fan-out in production.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, username string, event Event, payload any) {
	obslog.L().Info("notify",
		zap.String("username", username),
		zap.String("event", string(event)),
		zap.Any("payload", payload),
	)
}

// Multi fans a notification out to every sink.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, username string, event Event, payload any) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, username, event, payload)
		}
	}
}
