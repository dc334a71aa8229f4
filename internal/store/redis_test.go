package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	st, err := Open(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testChallenge(id, sender, recipient string) *Challenge {
	now := time.Now()
	return &Challenge{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Category:  "TYPING",
		Status:    ChallengePending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func TestCreateAndGetChallenge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ch := testChallenge("ch-1", "alice", "bob")
	if err := st.CreateChallenge(ctx, ch); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	got, err := st.GetChallenge(ctx, "ch-1")
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if got.Sender != "alice" || got.Recipient != "bob" || got.Status != ChallengePending {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := st.GetChallenge(ctx, "ch-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicatePendingPair(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateChallenge(ctx, testChallenge("ch-1", "alice", "bob")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Same pair in the reverse direction still counts as a duplicate.
	err := st.CreateChallenge(ctx, testChallenge("ch-2", "bob", "alice"))
	if !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}
	// A different pair is fine.
	if err := st.CreateChallenge(ctx, testChallenge("ch-3", "alice", "carol")); err != nil {
		t.Fatalf("different pair: %v", err)
	}
}

func TestConcurrentCreateSamePair(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.CreateChallenge(ctx, testChallenge(fmt.Sprintf("ch-%d", i), "alice", "bob"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrDuplicatePending) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
}

func TestTransitionChallengeCAS(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateChallenge(ctx, testChallenge("ch-1", "alice", "bob")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.TransitionChallenge(ctx, "ch-1", ChallengePending, ChallengeAccepted, func(c *Challenge) {
		c.BattleID = "bt-9"
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != ChallengeAccepted || got.BattleID != "bt-9" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// The second transition out of PENDING loses.
	if _, err := st.TransitionChallenge(ctx, "ch-1", ChallengePending, ChallengeDeclined, nil); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	// Leaving PENDING frees the pair lock.
	if err := st.CreateChallenge(ctx, testChallenge("ch-2", "bob", "alice")); err != nil {
		t.Fatalf("pair lock not released: %v", err)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateChallenge(ctx, testChallenge("ch-1", "alice", "bob")); err != nil {
		t.Fatalf("create: %v", err)
	}

	targets := []ChallengeStatus{ChallengeAccepted, ChallengeDeclined, ChallengeCancelled, ChallengeExpired}
	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to ChallengeStatus) {
			defer wg.Done()
			_, errs[i] = st.TransitionChallenge(ctx, "ch-1", ChallengePending, to, nil)
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrStatusConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}
}

func TestListPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateChallenge(ctx, testChallenge("ch-1", "alice", "bob")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateChallenge(ctx, testChallenge("ch-2", "carol", "bob")); err != nil {
		t.Fatalf("create: %v", err)
	}

	recv, err := st.ListPending(ctx, "bob", true)
	if err != nil {
		t.Fatalf("ListPending received: %v", err)
	}
	if len(recv) != 2 {
		t.Fatalf("expected 2 received, got %d", len(recv))
	}
	sent, err := st.ListPending(ctx, "alice", false)
	if err != nil {
		t.Fatalf("ListPending sent: %v", err)
	}
	if len(sent) != 1 || sent[0].ID != "ch-1" {
		t.Fatalf("unexpected sent list: %+v", sent)
	}

	// Accepted challenges drop out of the pending projections.
	if _, err := st.TransitionChallenge(ctx, "ch-1", ChallengePending, ChallengeAccepted, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	recv, err = st.ListPending(ctx, "bob", true)
	if err != nil {
		t.Fatalf("ListPending after accept: %v", err)
	}
	if len(recv) != 1 || recv[0].ID != "ch-2" {
		t.Fatalf("unexpected received list: %+v", recv)
	}
}

func TestExpiredPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stale := testChallenge("ch-old", "alice", "bob")
	stale.ExpiresAt = time.Now().Add(-time.Second)
	if err := st.CreateChallenge(ctx, stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh := testChallenge("ch-new", "carol", "dave")
	if err := st.CreateChallenge(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	ids, err := st.ExpiredPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpiredPending: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ch-old" {
		t.Fatalf("unexpected expired set: %v", ids)
	}

	// Expiring it removes it from the sweep index.
	if _, err := st.TransitionChallenge(ctx, "ch-old", ChallengePending, ChallengeExpired, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	ids, err = st.ExpiredPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpiredPending after sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty sweep index, got %v", ids)
	}
}

func TestExpiredPendingSubSecondPrecision(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ch := testChallenge("ch-soon", "alice", "bob")
	ch.ExpiresAt = now.Add(300 * time.Millisecond)
	if err := st.CreateChallenge(ctx, ch); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	ids, err := st.ExpiredPending(ctx, now)
	if err != nil {
		t.Fatalf("ExpiredPending: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("challenge expiring in the future swept early: %v", ids)
	}

	ids, err = st.ExpiredPending(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ExpiredPending: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ch-soon" {
		t.Fatalf("expected ch-soon past its deadline, got %v", ids)
	}
}

func TestCreateChallengeReleasesPairLockOnFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	st, err := Open(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	// Poison the sender index so the write pipeline fails with WRONGTYPE
	// after the pair lock has already been taken.
	if err := mr.Set("challenge:index:sent:alice", "not-a-set"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.CreateChallenge(ctx, testChallenge("ch-bad", "alice", "bob")); err == nil {
		t.Fatal("expected pipeline failure")
	}
	if mr.Exists("challenge:pending:pair:alice:bob") {
		t.Fatal("pair lock left behind after failed create")
	}

	// A fresh create for the same pair must go through once the index is sane.
	mr.Del("challenge:index:sent:alice")
	if err := st.CreateChallenge(ctx, testChallenge("ch-ok", "alice", "bob")); err != nil {
		t.Fatalf("create after cleanup: %v", err)
	}
}

func TestBattleTransitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := &BattleRecord{
		ID:          "bt-1",
		Category:    "TYPING",
		Player1:     "alice",
		Player2:     "bob",
		Status:      BattleWaiting,
		CreatedAt:   time.Now(),
		DurationSec: 180,
	}
	if err := st.CreateBattle(ctx, rec); err != nil {
		t.Fatalf("CreateBattle: %v", err)
	}

	got, err := st.TransitionBattle(ctx, "bt-1", BattleWaiting, BattleOngoing, func(b *BattleRecord) {
		b.StartedAt = time.Now()
	})
	if err != nil {
		t.Fatalf("WAITING->ONGOING: %v", err)
	}
	if got.Status != BattleOngoing || got.StartedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", got)
	}

	// ONGOING battles can no longer be canceled.
	if _, err := st.TransitionBattle(ctx, "bt-1", BattleWaiting, BattleCanceled, nil); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	if _, err := st.TransitionBattle(ctx, "bt-1", BattleOngoing, BattleEnded, nil); err != nil {
		t.Fatalf("ONGOING->ENDED: %v", err)
	}
}
