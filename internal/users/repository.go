package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var ErrNotFound = errors.New("user not found")

// UserRef is the minimal identity the engine needs about a player.
type UserRef struct {
	ID       int64
	Username string
}

// Directory answers user and friendship lookups. Authentication itself is a
// separate concern; the engine only resolves names it is handed.
type Directory interface {
	FindUser(ctx context.Context, username string) (*UserRef, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Repository is the Postgres-backed Directory.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing connection pool (shared with history).
func NewRepositoryWithDB(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) FindUser(ctx context.Context, username string) (*UserRef, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNotFound
	}
	var u UserRef
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AreFriends reports whether an accepted friendship row exists for the
// unordered pair.
func (r *Repository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships f
			JOIN users ua ON ua.id = f.user_id
			JOIN users ub ON ub.id = f.friend_id
			WHERE f.status = 'accepted'
			  AND ((ua.username = $1 AND ub.username = $2)
			    OR (ua.username = $2 AND ub.username = $1))
		)`, strings.TrimSpace(a), strings.TrimSpace(b),
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
