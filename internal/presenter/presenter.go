// Package presenter maps storage records onto the outward DTO shapes.
package presenter

import (
	"time"

	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/pkg/battledto"
)

// ChallengeView projects a record; remaining time is only meaningful for
// PENDING challenges.
func ChallengeView(ch *store.Challenge, now time.Time) *battledto.ChallengeView {
	v := &battledto.ChallengeView{
		ID:        ch.ID,
		Sender:    ch.Sender,
		Recipient: ch.Recipient,
		Category:  ch.Category,
		Status:    string(ch.Status),
		BattleID:  ch.BattleID,
		CreatedAt: ch.CreatedAt,
		ExpiresAt: ch.ExpiresAt,
	}
	if ch.Status == store.ChallengePending {
		if rem := ch.ExpiresAt.Sub(now); rem > 0 {
			v.TimeRemainingSeconds = int64(rem.Seconds())
		}
	}
	return v
}

func BattleView(b *store.BattleRecord) *battledto.BattleView {
	v := &battledto.BattleView{
		ID:          b.ID,
		Category:    b.Category,
		Player1:     b.Player1,
		Player2:     b.Player2,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		DurationSec: b.DurationSec,
		EndReason:   b.EndReason,
		Config:      b.Config,
	}
	if !b.StartedAt.IsZero() {
		t := b.StartedAt
		v.StartedAt = &t
	}
	if b.Result != nil {
		v.Result = &battledto.OutcomeView{
			Winner:      b.Result.Winner,
			Loser:       b.Result.Loser,
			WinnerScore: b.Result.WinnerScore,
			LoserScore:  b.Result.LoserScore,
			Unresolved:  b.Result.Unresolved,
			Reason:      b.Result.Reason,
		}
	}
	return v
}
