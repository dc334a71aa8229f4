package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hexplatoon/rivalist-go/internal/history"
	"github.com/hexplatoon/rivalist-go/internal/msgcat"
	"github.com/hexplatoon/rivalist-go/internal/notify"
	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/hexplatoon/rivalist-go/internal/sched"
	"github.com/hexplatoon/rivalist-go/internal/scoring"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/internal/presenter"
	"github.com/hexplatoon/rivalist-go/pkg/battledto"
	"go.uber.org/zap"
)

// Config tunes the registry's deadlines.
type Config struct {
	ReadinessTimeout time.Duration
	// Durations maps category -> battle duration; categories not present use
	// DefaultDuration.
	Durations       map[string]time.Duration
	DefaultDuration time.Duration
}

// Registry owns the live battle sessions and drives the battle state machine.
// All transitions CAS on the store record's status field; the volatile session
// map is an auxiliary cache torn down strictly after the transition it
// belongs to.
type Registry struct {
	st       *store.Store
	sched    *sched.Scheduler
	scores   *scoring.Dispatcher
	hist     *history.Repository
	notifier notify.Notifier
	cat      *msgcat.Catalog
	cfg      Config

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewRegistry(st *store.Store, sc *sched.Scheduler, scores *scoring.Dispatcher, hist *history.Repository, notifier notify.Notifier, cat *msgcat.Catalog, cfg Config) *Registry {
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = 10 * time.Second
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 300 * time.Second
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Registry{
		st:       st,
		sched:    sc,
		scores:   scores,
		hist:     hist,
		notifier: notifier,
		cat:      cat,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

func (r *Registry) duration(category string) time.Duration {
	if d, ok := r.cfg.Durations[category]; ok && d > 0 {
		return d
	}
	return r.cfg.DefaultDuration
}

// Create inserts a WAITING battle record, registers the volatile session with
// zeroed readiness, arms the readiness timer and tells both players to get
// ready. Called by the challenge manager on accept.
func (r *Registry) Create(ctx context.Context, category, player1, player2 string) (*store.BattleRecord, error) {
	player1, player2 = strings.TrimSpace(player1), strings.TrimSpace(player2)
	if player1 == "" || player2 == "" || player1 == player2 {
		return nil, ErrSelfBattle
	}

	dur := r.duration(category)
	cfg, err := r.scores.Config(category, dur)
	if err != nil {
		return nil, err
	}
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &store.BattleRecord{
		ID:          "bt-" + uuid.NewString(),
		Category:    category,
		Player1:     player1,
		Player2:     player2,
		Status:      store.BattleWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
		DurationSec: int(dur.Seconds()),
		Config:      rawCfg,
	}
	if err := r.st.CreateBattle(ctx, rec); err != nil {
		return nil, err
	}

	sess := &session{
		battleID:    rec.ID,
		category:    category,
		player1:     player1,
		player2:     player2,
		duration:    dur,
		config:      rawCfg,
		submissions: make(map[string]string),
		finals:      make(map[string]bool),
	}
	r.mu.Lock()
	r.sessions[rec.ID] = sess
	r.mu.Unlock()

	r.sched.Arm(rec.ID, sched.PurposeReadiness, r.cfg.ReadinessTimeout, func() {
		r.onReadinessTimeout(rec.ID)
	})

	obslog.L().Info("battle_create",
		zap.String("battle_id", rec.ID),
		zap.String("category", category),
		zap.String("player1", player1),
		zap.String("player2", player2),
	)

	timeoutSec := int(r.cfg.ReadinessTimeout.Seconds())
	msg := r.render("battle.waiting", map[string]any{"BattleID": rec.ID, "Timeout": timeoutSec})
	for _, p := range []string{player1, player2} {
		opp, _ := sess.opponent(p)
		r.notifier.Notify(ctx, p, notify.EventBattleWaiting, &battledto.BattleEvent{
			BattleID:   rec.ID,
			Category:   category,
			Opponent:   opp,
			Message:    msg,
			TimeoutSec: timeoutSec,
		})
	}
	return rec, nil
}

// SignalReady records a player's readiness. Setting an already-true flag is a
// no-op. When both flags are up, exactly one caller wins the WAITING->ONGOING
// CAS, cancels the readiness timer and arms the duration timer.
func (r *Registry) SignalReady(ctx context.Context, username, battleID string) (*store.BattleRecord, error) {
	sess := r.session(battleID)
	if sess == nil {
		return nil, ErrNotFound
	}
	if _, ok := sess.opponent(username); !ok {
		return nil, ErrForbidden
	}

	changed, both := sess.setReady(username)
	if !both || !sess.markStarted() {
		if !changed {
			obslog.L().Debug("battle_ready_repeat",
				zap.String("battle_id", battleID),
				zap.String("username", username),
			)
		}
		return r.st.GetBattle(ctx, battleID)
	}

	rec, err := r.st.TransitionBattle(ctx, battleID, store.BattleWaiting, store.BattleOngoing, func(b *store.BattleRecord) {
		b.StartedAt = time.Now()
	})
	if errors.Is(err, store.ErrStatusConflict) {
		// Readiness timeout won the race a moment earlier.
		return nil, ErrInvalidState
	}
	if err != nil {
		// Transient store failure: release the start latch so a retried
		// ready signal can attempt the transition again.
		sess.clearStarted()
		return nil, err
	}

	r.sched.Cancel(battleID, sched.PurposeReadiness)
	r.sched.Arm(battleID, sched.PurposeDuration, sess.duration, func() {
		r.onDurationTimeout(battleID)
	})

	obslog.L().Info("battle_start",
		zap.String("battle_id", battleID),
		zap.String("category", sess.category),
		zap.Int("duration_sec", rec.DurationSec),
	)

	msg := r.render("battle.start", map[string]any{"BattleID": battleID, "Duration": rec.DurationSec})
	for _, p := range []string{sess.player1, sess.player2} {
		opp, _ := sess.opponent(p)
		r.notifier.Notify(ctx, p, notify.EventBattleStart, &battledto.BattleEvent{
			BattleID: battleID,
			Category: sess.category,
			Opponent: opp,
			Message:  msg,
			Config:   sess.config,
		})
	}
	return rec, nil
}

// RecordProgress stores a player's current text. Valid only while ONGOING;
// a final-flagged submission from both players ends the battle.
func (r *Registry) RecordProgress(ctx context.Context, username, battleID, text string, final bool) error {
	sess := r.session(battleID)
	if sess == nil {
		return ErrNotFound
	}
	if _, ok := sess.opponent(username); !ok {
		return ErrForbidden
	}
	rec, err := r.st.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if rec.Status != store.BattleOngoing {
		return ErrInvalidState
	}

	bothFinal := sess.saveSubmission(username, text, final)
	obslog.L().Debug("battle_progress",
		zap.String("battle_id", battleID),
		zap.String("username", username),
		zap.Bool("final", final),
	)
	if bothFinal {
		if _, err := r.End(ctx, battleID, EndBothSubmitted); err != nil && !errors.Is(err, ErrInvalidState) {
			return err
		}
	}
	return nil
}

// End finishes an ONGOING battle. Among the duration timer, both-submitted
// detection and the forced path, only the first CAS winner proceeds; losers
// get ErrInvalidState. The winner cancels the duration timer, resolves the
// score (scorer failure yields an unresolved outcome, never a stuck battle),
// persists the result and tears the session down.
func (r *Registry) End(ctx context.Context, battleID string, reason EndReason) (*store.BattleRecord, error) {
	rec, err := r.st.TransitionBattle(ctx, battleID, store.BattleOngoing, store.BattleEnded, func(b *store.BattleRecord) {
		b.EndReason = string(reason)
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrInvalidState
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.sched.Cancel(battleID, sched.PurposeDuration)

	subs := map[string]string{}
	if sess := r.session(battleID); sess != nil {
		subs = sess.submissionSnapshot()
	}
	outcome := r.scores.Resolve(rec.Category, scoring.Input{
		BattleID:    battleID,
		Player1:     rec.Player1,
		Player2:     rec.Player2,
		Submissions: subs,
		DurationSec: rec.DurationSec,
	}, rec.Config)

	final, err := r.st.TransitionBattle(ctx, battleID, store.BattleEnded, store.BattleEnded, func(b *store.BattleRecord) {
		b.Result = outcome
	})
	if err != nil {
		// The ENDED state already holds; losing the result write only costs
		// the outcome payload, which is still delivered via notification.
		obslog.L().Error("battle_result_persist_error", zap.String("battle_id", battleID), zap.Error(err))
		final = rec
		final.Result = outcome
	}

	r.teardown(ctx, final)

	obslog.L().Info("battle_end",
		zap.String("battle_id", battleID),
		zap.String("reason", string(reason)),
		zap.String("winner", outcome.Winner),
		zap.Bool("unresolved", outcome.Unresolved),
	)

	key := "battle.result"
	if outcome.Unresolved {
		key = "battle.unresolved"
	}
	msg := r.render(key, map[string]any{
		"BattleID":    battleID,
		"Winner":      outcome.Winner,
		"WinnerScore": fmt.Sprintf("%.1f", outcome.WinnerScore),
	})
	view := presenter.BattleView(final)
	for _, p := range []string{final.Player1, final.Player2} {
		opp := final.Player1
		if p == final.Player1 {
			opp = final.Player2
		}
		r.notifier.Notify(ctx, p, notify.EventBattleResult, &battledto.BattleEvent{
			BattleID: battleID,
			Category: final.Category,
			Opponent: opp,
			Message:  msg,
			Result:   view.Result,
		})
	}
	return final, nil
}

// Cancel is the administrative WAITING->CANCELED path.
func (r *Registry) Cancel(ctx context.Context, battleID string) (*store.BattleRecord, error) {
	rec, err := r.st.TransitionBattle(ctx, battleID, store.BattleWaiting, store.BattleCanceled, func(b *store.BattleRecord) {
		b.EndReason = reasonCancelled
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, ErrInvalidState
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.sched.Cancel(battleID, sched.PurposeReadiness)
	r.finishCanceled(ctx, rec)
	return rec, nil
}

// Get returns a battle by id, falling back to durable history once the Redis
// record has aged out.
func (r *Registry) Get(ctx context.Context, battleID string) (*store.BattleRecord, error) {
	rec, err := r.st.GetBattle(ctx, battleID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if r.hist == nil {
		return nil, ErrNotFound
	}
	rec, err = r.hist.Get(ctx, battleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Stop drops all volatile sessions. Records stay in the store; in-flight
// battles are lost by design on process shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
}

// onReadinessTimeout fires when a battle sat in WAITING past the deadline.
// Losing the CAS here means a last-moment ready signal won; that is a no-op.
func (r *Registry) onReadinessTimeout(battleID string) {
	ctx := context.Background()
	rec, err := r.st.TransitionBattle(ctx, battleID, store.BattleWaiting, store.BattleCanceled, func(b *store.BattleRecord) {
		b.EndReason = reasonReadinessTimeout
	})
	if err != nil {
		obslog.L().Debug("battle_readiness_timeout_noop",
			zap.String("battle_id", battleID),
			zap.Error(err),
		)
		return
	}
	obslog.L().Info("battle_readiness_timeout", zap.String("battle_id", battleID))
	r.finishCanceled(ctx, rec)
}

// onDurationTimeout is the natural end of an ONGOING battle.
func (r *Registry) onDurationTimeout(battleID string) {
	if _, err := r.End(context.Background(), battleID, EndNaturalTimeout); err != nil {
		obslog.L().Debug("battle_duration_timeout_noop",
			zap.String("battle_id", battleID),
			zap.Error(err),
		)
	}
}

func (r *Registry) finishCanceled(ctx context.Context, rec *store.BattleRecord) {
	r.teardown(ctx, rec)
	msg := r.render("battle.canceled", map[string]any{"BattleID": rec.ID})
	for _, p := range []string{rec.Player1, rec.Player2} {
		opp := rec.Player1
		if p == rec.Player1 {
			opp = rec.Player2
		}
		r.notifier.Notify(ctx, p, notify.EventBattleCanceled, &battledto.BattleEvent{
			BattleID: rec.ID,
			Category: rec.Category,
			Opponent: opp,
			Message:  msg,
		})
	}
}

// teardown order: timers are already cancelled by the caller, score (if any)
// resolved; remove the volatile session, then persist the terminal record.
func (r *Registry) teardown(ctx context.Context, rec *store.BattleRecord) {
	r.mu.Lock()
	delete(r.sessions, rec.ID)
	r.mu.Unlock()
	if r.hist != nil {
		if err := r.hist.SaveFinal(ctx, rec); err != nil {
			obslog.L().Error("battle_history_persist_error",
				zap.String("battle_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}

func (r *Registry) session(battleID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[battleID]
}

func (r *Registry) render(key string, data map[string]any) string {
	if r.cat == nil {
		return ""
	}
	msg, err := r.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("message_render_error", zap.String("key", key), zap.Error(err))
		return ""
	}
	return msg
}
