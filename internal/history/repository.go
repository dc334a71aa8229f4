package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/store"
	_ "github.com/lib/pq"
)

// Repository persists terminal battle records so results survive Redis TTLs
// and restarts. Live battles never touch this table.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// SaveFinal upserts a terminal (ENDED or CANCELED) battle record.
func (r *Repository) SaveFinal(ctx context.Context, b *store.BattleRecord) error {
	if r == nil || r.db == nil || b == nil {
		return nil
	}
	if b.Status != store.BattleEnded && b.Status != store.BattleCanceled {
		return nil
	}

	var winner, loser string
	var winnerScore, loserScore float64
	unresolved := false
	if b.Result != nil {
		winner, loser = b.Result.Winner, b.Result.Loser
		winnerScore, loserScore = b.Result.WinnerScore, b.Result.LoserScore
		unresolved = b.Result.Unresolved
	}
	configRaw := "{}"
	if len(b.Config) > 0 {
		configRaw = string(b.Config)
	}

	var startedAt *time.Time
	if !b.StartedAt.IsZero() {
		startedAt = &b.StartedAt
	}

	q := `INSERT INTO battles (
	    battle_id, category, player1, player2, status, end_reason,
	    winner, loser, winner_score, loser_score, unresolved,
	    config, created_at, started_at, ended_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (battle_id) DO UPDATE SET
	    status=EXCLUDED.status,
	    end_reason=EXCLUDED.end_reason,
	    winner=EXCLUDED.winner,
	    loser=EXCLUDED.loser,
	    winner_score=EXCLUDED.winner_score,
	    loser_score=EXCLUDED.loser_score,
	    unresolved=EXCLUDED.unresolved,
	    config=EXCLUDED.config,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.Category, b.Player1, b.Player2, string(b.Status), b.EndReason,
		winner, loser, winnerScore, loserScore, unresolved,
		configRaw, b.CreatedAt, startedAt, b.UpdatedAt,
	)
	return err
}

// Get loads a terminal battle record by id.
func (r *Repository) Get(ctx context.Context, battleID string) (*store.BattleRecord, error) {
	if strings.TrimSpace(battleID) == "" {
		return nil, store.ErrNotFound
	}
	var (
		b           store.BattleRecord
		status      string
		winner      sql.NullString
		loser       sql.NullString
		winnerScore sql.NullFloat64
		loserScore  sql.NullFloat64
		unresolved  bool
		configRaw   []byte
		startedAt   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT battle_id, category, player1, player2, status, end_reason,
		       winner, loser, winner_score, loser_score, unresolved,
		       config, created_at, started_at, ended_at
		FROM battles WHERE battle_id = $1`, battleID,
	).Scan(
		&b.ID, &b.Category, &b.Player1, &b.Player2, &status, &b.EndReason,
		&winner, &loser, &winnerScore, &loserScore, &unresolved,
		&configRaw, &b.CreatedAt, &startedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = store.BattleStatus(status)
	if startedAt.Valid {
		b.StartedAt = startedAt.Time
	}
	if len(configRaw) > 0 {
		b.Config = json.RawMessage(configRaw)
	}
	if winner.Valid || unresolved {
		b.Result = &store.Outcome{
			Winner:      winner.String,
			Loser:       loser.String,
			WinnerScore: winnerScore.Float64,
			LoserScore:  loserScore.Float64,
			Unresolved:  unresolved,
		}
	}
	return &b, nil
}
