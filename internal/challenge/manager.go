package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hexplatoon/rivalist-go/internal/msgcat"
	"github.com/hexplatoon/rivalist-go/internal/notify"
	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/internal/users"
	"github.com/hexplatoon/rivalist-go/internal/presenter"
	"github.com/hexplatoon/rivalist-go/pkg/battledto"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = errors.New("challenge not found")
	ErrForbidden        = errors.New("challenge is not addressed to this user")
	ErrInvalidState     = errors.New("challenge is not pending")
	ErrExpired          = errors.New("challenge has expired")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrNotFriends       = errors.New("users are not friends")
	ErrDuplicatePending = errors.New("a pending challenge already exists for this pair")
	ErrUnknownCategory  = errors.New("unknown battle category")
)

// BattleCreator is the registry port the manager calls on accept.
type BattleCreator interface {
	Create(ctx context.Context, category, player1, player2 string) (*store.BattleRecord, error)
}

// CategoryChecker rejects challenges for categories no scorer handles.
type CategoryChecker interface {
	Known(category string) bool
}

// Manager owns the challenge state machine. Every transition out of PENDING
// is a status CAS in the store, shared by user calls and the expiry sweep, so
// a challenge can never be both accepted and swept.
type Manager struct {
	st         *store.Store
	dir        users.Directory
	battles    BattleCreator
	categories CategoryChecker
	notifier   notify.Notifier
	cat        *msgcat.Catalog
	ttl        time.Duration
}

func NewManager(st *store.Store, dir users.Directory, battles BattleCreator, categories CategoryChecker, notifier notify.Notifier, cat *msgcat.Catalog, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Manager{
		st:         st,
		dir:        dir,
		battles:    battles,
		categories: categories,
		notifier:   notifier,
		cat:        cat,
		ttl:        ttl,
	}
}

// Create validates and inserts a PENDING challenge. The duplicate-pending
// check and the insert are one atomic step in the store, so two racing
// creates for the same pair cannot both succeed.
func (m *Manager) Create(ctx context.Context, sender, recipient, category string) (*store.Challenge, error) {
	sender, recipient = strings.TrimSpace(sender), strings.TrimSpace(recipient)
	if sender == "" || recipient == "" {
		return nil, ErrNotFound
	}
	if sender == recipient {
		return nil, ErrSelfChallenge
	}
	if m.categories != nil && !m.categories.Known(category) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if _, err := m.dir.FindUser(ctx, sender); err != nil {
		return nil, userLookupErr(err, sender)
	}
	if _, err := m.dir.FindUser(ctx, recipient); err != nil {
		return nil, userLookupErr(err, recipient)
	}
	friends, err := m.dir.AreFriends(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	if !friends {
		return nil, ErrNotFriends
	}

	now := time.Now()
	ch := &store.Challenge{
		ID:        "ch-" + uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Category:  category,
		Status:    store.ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.st.CreateChallenge(ctx, ch); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			return nil, ErrDuplicatePending
		}
		return nil, err
	}

	obslog.L().Info("challenge_create",
		zap.String("challenge_id", ch.ID),
		zap.String("sender", sender),
		zap.String("recipient", recipient),
		zap.String("category", category),
	)

	ttlSec := int(m.ttl.Seconds())
	m.notifyOne(ctx, recipient, notify.EventChallengeReceived, ch, "challenge.received", map[string]any{
		"Sender": sender, "Category": category, "TTL": ttlSec,
	})
	m.notifyOne(ctx, sender, notify.EventChallengeSent, ch, "challenge.sent", map[string]any{
		"Recipient": recipient, "Category": category,
	})
	return ch, nil
}

// Accept transitions PENDING->ACCEPTED for the recipient and spawns the
// battle. A challenge past its expiry is expired on the spot instead (lazy
// expiry), so a stale challenge can never produce a battle.
func (m *Manager) Accept(ctx context.Context, actor, challengeID string) (*store.Challenge, error) {
	if _, err := m.guardPending(ctx, actor, challengeID, false); err != nil {
		return nil, err
	}

	updated, err := m.st.TransitionChallenge(ctx, challengeID, store.ChallengePending, store.ChallengeAccepted, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	rec, err := m.battles.Create(ctx, updated.Category, updated.Sender, updated.Recipient)
	if err != nil {
		// The challenge stays ACCEPTED; the battle failed to materialize.
		// Surfaced to the caller so the client can retry with a new challenge.
		obslog.L().Error("challenge_accept_battle_error",
			zap.String("challenge_id", challengeID),
			zap.Error(err),
		)
		return nil, err
	}

	linked, err := m.st.TransitionChallenge(ctx, challengeID, store.ChallengeAccepted, store.ChallengeAccepted, func(c *store.Challenge) {
		c.BattleID = rec.ID
	})
	if err != nil {
		obslog.L().Error("challenge_link_battle_error",
			zap.String("challenge_id", challengeID),
			zap.String("battle_id", rec.ID),
			zap.Error(err),
		)
		linked = updated
		linked.BattleID = rec.ID
	}

	obslog.L().Info("challenge_accept",
		zap.String("challenge_id", challengeID),
		zap.String("battle_id", rec.ID),
		zap.String("actor", actor),
	)
	m.notifyBoth(ctx, linked, notify.EventChallengeAccepted, "challenge.accepted", map[string]any{
		"Recipient": linked.Recipient, "Category": linked.Category,
	})
	return linked, nil
}

// Decline transitions PENDING->DECLINED for the recipient.
func (m *Manager) Decline(ctx context.Context, actor, challengeID string) (*store.Challenge, error) {
	if _, err := m.guardPending(ctx, actor, challengeID, false); err != nil {
		return nil, err
	}
	updated, err := m.st.TransitionChallenge(ctx, challengeID, store.ChallengePending, store.ChallengeDeclined, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Info("challenge_decline", zap.String("challenge_id", challengeID), zap.String("actor", actor))
	m.notifyBoth(ctx, updated, notify.EventChallengeDeclined, "challenge.declined", map[string]any{
		"Recipient": updated.Recipient, "Category": updated.Category,
	})
	return updated, nil
}

// Cancel lets the original sender withdraw a PENDING challenge.
func (m *Manager) Cancel(ctx context.Context, actor, challengeID string) (*store.Challenge, error) {
	if _, err := m.guardPending(ctx, actor, challengeID, true); err != nil {
		return nil, err
	}
	updated, err := m.st.TransitionChallenge(ctx, challengeID, store.ChallengePending, store.ChallengeCancelled, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Info("challenge_cancel", zap.String("challenge_id", challengeID), zap.String("actor", actor))
	m.notifyBoth(ctx, updated, notify.EventChallengeCancelled, "challenge.cancelled", map[string]any{
		"Sender": updated.Sender, "Category": updated.Category,
	})
	return updated, nil
}

func (m *Manager) Get(ctx context.Context, challengeID string) (*store.Challenge, error) {
	ch, err := m.st.GetChallenge(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return ch, err
}

func (m *Manager) ListPendingReceivedBy(ctx context.Context, username string) ([]*store.Challenge, error) {
	return m.st.ListPending(ctx, username, true)
}

func (m *Manager) ListPendingSentBy(ctx context.Context, username string) ([]*store.Challenge, error) {
	return m.st.ListPending(ctx, username, false)
}

// SweepExpired finalizes every PENDING challenge past its expiry. Each
// transition is the same CAS as the user paths, so a concurrent accept either
// beats the sweep or observes EXPIRED; no challenge gets both. Returns the
// number of challenges expired.
func (m *Manager) SweepExpired(ctx context.Context) int {
	ids, err := m.st.ExpiredPending(ctx, time.Now())
	if err != nil {
		obslog.L().Error("challenge_sweep_error", zap.Error(err))
		return 0
	}
	expired := 0
	for _, id := range ids {
		if m.expireNow(ctx, id) {
			expired++
		}
	}
	if expired > 0 {
		obslog.L().Info("challenge_sweep", zap.Int("expired", expired))
	}
	return expired
}

// expireNow CASes a single challenge to EXPIRED and notifies on success.
// Losing the CAS means someone accepted/declined/cancelled it first; that is
// a silent no-op for the sweep.
func (m *Manager) expireNow(ctx context.Context, challengeID string) bool {
	updated, err := m.st.TransitionChallenge(ctx, challengeID, store.ChallengePending, store.ChallengeExpired, nil)
	if err != nil {
		obslog.L().Debug("challenge_expire_noop", zap.String("challenge_id", challengeID), zap.Error(err))
		return false
	}
	m.notifyBoth(ctx, updated, notify.EventChallengeExpired, "challenge.expired", map[string]any{
		"Sender": updated.Sender, "Recipient": updated.Recipient, "Category": updated.Category,
	})
	return true
}

// guardPending runs the shared accept/decline/cancel validation: existence,
// actor, pending status and lazy expiry.
func (m *Manager) guardPending(ctx context.Context, actor, challengeID string, senderActs bool) (*store.Challenge, error) {
	ch, err := m.st.GetChallenge(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	expected := ch.Recipient
	if senderActs {
		expected = ch.Sender
	}
	if strings.TrimSpace(actor) != expected {
		return nil, ErrForbidden
	}
	if ch.Status != store.ChallengePending {
		return nil, ErrInvalidState
	}
	if time.Now().After(ch.ExpiresAt) {
		// Lazy expiry: the sweep has not caught this one yet. Whoever wins
		// the CAS notifies; either way the caller sees Expired.
		m.expireNow(ctx, challengeID)
		return nil, ErrExpired
	}
	return ch, nil
}

func (m *Manager) notifyBoth(ctx context.Context, ch *store.Challenge, event notify.Event, msgKey string, data map[string]any) {
	m.notifyOne(ctx, ch.Sender, event, ch, msgKey, data)
	m.notifyOne(ctx, ch.Recipient, event, ch, msgKey, data)
}

func (m *Manager) notifyOne(ctx context.Context, username string, event notify.Event, ch *store.Challenge, msgKey string, data map[string]any) {
	view := presenter.ChallengeView(ch, time.Now())
	payload := &battledto.ChallengeEvent{Challenge: view}
	if m.cat != nil {
		msg, err := m.cat.Render(msgKey, data)
		if err != nil {
			obslog.L().Warn("message_render_error", zap.String("key", msgKey), zap.Error(err))
		} else {
			payload.Message = msg
		}
	}
	m.notifier.Notify(ctx, username, event, payload)
}

func userLookupErr(err error, username string) error {
	if errors.Is(err, users.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return err
}
