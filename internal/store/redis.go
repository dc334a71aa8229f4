package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordTTL = 24 * time.Hour
	// Slack past the challenge expiry before the pair lock falls away on its
	// own; normally the sweep or a lazy check clears it much sooner.
	pairLockGrace = 30 * time.Second

	casAttempts = 3
)

// Store keeps the authoritative challenge and battle records in Redis. All
// status transitions go through a WATCH-backed compare-and-set on the record
// key, so exactly one of any set of racing callers wins.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open connects to Redis by URL and pings it once.
func Open(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Client exposes the underlying connection for collaborators that share it.
func (s *Store) Client() *redis.Client { return s.rdb }

// --- challenges ---

// CreateChallenge inserts a PENDING challenge, enforcing at most one pending
// challenge per unordered user pair. The pair lock is taken with SetNX so two
// concurrent creates cannot both pass the existence check.
func (s *Store) CreateChallenge(ctx context.Context, ch *Challenge) error {
	if ch == nil || ch.ID == "" {
		return fmt.Errorf("invalid challenge")
	}
	lockTTL := time.Until(ch.ExpiresAt) + pairLockGrace
	if lockTTL <= 0 {
		lockTTL = pairLockGrace
	}
	ok, err := s.rdb.SetNX(ctx, pairKey(ch.Sender, ch.Recipient), ch.ID, lockTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicatePending
	}

	raw, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, challengeKey(ch.ID), raw, recordTTL)
	pipe.SAdd(ctx, sentIdxKey(ch.Sender), ch.ID)
	pipe.Expire(ctx, sentIdxKey(ch.Sender), recordTTL)
	pipe.SAdd(ctx, recvIdxKey(ch.Recipient), ch.ID)
	pipe.Expire(ctx, recvIdxKey(ch.Recipient), recordTTL)
	pipe.ZAdd(ctx, pendingExpiryKey, redis.Z{Score: float64(ch.ExpiresAt.UnixMilli()), Member: ch.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		// The record never landed, so the pair lock must not outlive it.
		s.rdb.Del(ctx, pairKey(ch.Sender, ch.Recipient))
		return err
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	raw, err := s.rdb.Get(ctx, challengeKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// TransitionChallenge moves a challenge from one status to another as a CAS.
// mutate (optional) runs on the copy after the status swap and before the
// write. Whoever loses the race gets ErrStatusConflict. Leaving PENDING also
// releases the pair lock and the sweep index inside the same transaction.
func (s *Store) TransitionChallenge(ctx context.Context, id string, from, to ChallengeStatus, mutate func(*Challenge)) (*Challenge, error) {
	key := challengeKey(id)
	var out *Challenge
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur Challenge
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.Status != from {
				return ErrStatusConflict
			}
			cur.Status = to
			if mutate != nil {
				mutate(&cur)
			}
			newRaw, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, recordTTL)
			switch {
			case from == ChallengePending && to != ChallengePending:
				pipe.Del(ctx, pairKey(cur.Sender, cur.Recipient))
				pipe.ZRem(ctx, pendingExpiryKey, cur.ID)
			case to == ChallengePending:
				// Mutate may have moved the expiry; keep the sweep index in step.
				pipe.ZAdd(ctx, pendingExpiryKey, redis.Z{Score: float64(cur.ExpiresAt.UnixMilli()), Member: cur.ID})
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = &cur
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Concurrent write slipped in between WATCH and EXEC; re-read and
			// either report the conflict or retry the swap.
			continue
		}
		return out, err
	}
	return nil, ErrStatusConflict
}

// ListPending returns the PENDING challenges indexed for a user.
// received selects the recipient index, otherwise the sender index.
func (s *Store) ListPending(ctx context.Context, username string, received bool) ([]*Challenge, error) {
	key := sentIdxKey(username)
	if received {
		key = recvIdxKey(username)
	}
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	var list []*Challenge
	for _, id := range ids {
		ch, err := s.GetChallenge(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ch.Status == ChallengePending {
			list = append(list, ch)
		}
	}
	return list, nil
}

// ExpiredPending lists ids of PENDING challenges whose expiry is at or before
// now, in expiry order.
func (s *Store) ExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, pendingExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return ids, nil
}

// --- battles ---

func (s *Store) CreateBattle(ctx context.Context, b *BattleRecord) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("invalid battle record")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, battleKey(b.ID), raw, recordTTL).Err()
}

func (s *Store) GetBattle(ctx context.Context, id string) (*BattleRecord, error) {
	raw, err := s.rdb.Get(ctx, battleKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b BattleRecord
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// TransitionBattle is the battle-side CAS; same discipline as
// TransitionChallenge. Readiness confirmation, readiness timeout, duration
// timeout and forced end all funnel through this single primitive.
func (s *Store) TransitionBattle(ctx context.Context, id string, from, to BattleStatus, mutate func(*BattleRecord)) (*BattleRecord, error) {
	key := battleKey(id)
	var out *BattleRecord
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur BattleRecord
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.Status != from {
				return ErrStatusConflict
			}
			cur.Status = to
			cur.UpdatedAt = time.Now()
			if mutate != nil {
				mutate(&cur)
			}
			newRaw, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, recordTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = &cur
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, ErrStatusConflict
}

// --- keys ---

const pendingExpiryKey = "challenge:pending:expiry"

func challengeKey(id string) string { return "challenge:" + strings.TrimSpace(id) }
func battleKey(id string) string    { return "battle:" + strings.TrimSpace(id) }
func sentIdxKey(u string) string    { return "challenge:index:sent:" + strings.TrimSpace(u) }
func recvIdxKey(u string) string    { return "challenge:index:recv:" + strings.TrimSpace(u) }

// pairKey normalizes the unordered (sender, recipient) pair.
func pairKey(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a > b {
		a, b = b, a
	}
	return "challenge:pending:pair:" + a + ":" + b
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
