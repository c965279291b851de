package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"wedding-bet-service/internal/domain"
)

const uniqueViolation = "23505"

// Store keeps every collection as JSONB documents in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertBet(ctx context.Context, bet domain.Bet) error {
	data, err := json.Marshal(bet)
	if err != nil {
		return fmt.Errorf("marshal bet: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO bets (id, data, created_at) VALUES ($1, $2, $3)`, bet.ID, data, bet.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

func (s *Store) ListBets(ctx context.Context) ([]domain.Bet, error) {
	bets := []domain.Bet{}
	err := s.scanDocuments(ctx, `SELECT data FROM bets ORDER BY seq`, func(raw []byte) error {
		var bet domain.Bet
		if err := json.Unmarshal(raw, &bet); err != nil {
			return fmt.Errorf("unmarshal bet: %w", err)
		}
		bets = append(bets, bet)
		return nil
	})
	return bets, err
}

func (s *Store) DeleteBet(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bets WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBetNotFound
	}
	return nil
}

func (s *Store) InsertSubmission(ctx context.Context, sub domain.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, user_id, data, submitted_at) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.UserID, data, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	subs := []domain.Submission{}
	err := s.scanDocuments(ctx, `SELECT data FROM answers ORDER BY seq`, func(raw []byte) error {
		var sub domain.Submission
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("unmarshal submission: %w", err)
		}
		subs = append(subs, sub)
		return nil
	})
	return subs, err
}

// InsertActiveKey deactivates the current key and inserts key in one transaction.
func (s *Store) InsertActiveKey(ctx context.Context, key domain.AnswerKey) error {
	key.Active = true
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE keys SET active=false, data=jsonb_set(data, '{active}', 'false') WHERE active`); err != nil {
			return fmt.Errorf("deactivate answer keys: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO keys (id, data, active, submitted_at) VALUES ($1, $2, true, $3)`,
			key.ID, data, key.SubmittedAt); err != nil {
			return fmt.Errorf("insert answer key: %w", err)
		}
		return nil
	})
}

func (s *Store) ActiveKey(ctx context.Context) (domain.AnswerKey, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM keys WHERE active`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnswerKey{}, domain.ErrMissingAnswerKey
	}
	if err != nil {
		return domain.AnswerKey{}, fmt.Errorf("load answer key: %w", err)
	}
	var key domain.AnswerKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return domain.AnswerKey{}, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return key, nil
}

// ReplaceWinners swaps the whole homepage set in one transaction. Concurrent
// publishes are serialized by the table lock, so the last one wins.
func (s *Store) ReplaceWinners(ctx context.Context, winners []domain.PublishedWinner) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE homepage_winners IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock winners: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM homepage_winners`); err != nil {
			return fmt.Errorf("clear winners: %w", err)
		}
		if len(winners) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, w := range winners {
			data, err := json.Marshal(w)
			if err != nil {
				return fmt.Errorf("marshal winner: %w", err)
			}
			batch.Queue(`INSERT INTO homepage_winners (position, data) VALUES ($1, $2)`, i, data)
		}
		results := tx.SendBatch(ctx, batch)
		for range winners {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert winner: %w", err)
			}
		}
		return results.Close()
	})
}

func (s *Store) ListWinners(ctx context.Context) ([]domain.PublishedWinner, error) {
	winners := []domain.PublishedWinner{}
	err := s.scanDocuments(ctx, `SELECT data FROM homepage_winners ORDER BY position`, func(raw []byte) error {
		var w domain.PublishedWinner
		if err := json.Unmarshal(raw, &w); err != nil {
			return fmt.Errorf("unmarshal winner: %w", err)
		}
		winners = append(winners, w)
		return nil
	})
	return winners, err
}

func (s *Store) InsertUser(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, admin, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Admin, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, admin, created_at FROM users WHERE email=$1`, email).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Admin, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Store) SetAdmin(ctx context.Context, userID string, admin bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET admin=$2 WHERE id=$1`, userID, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) scanDocuments(ctx context.Context, query string, fn func(raw []byte) error) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}
