package app

import (
	"context"

	"wedding-bet-service/internal/domain"
)

// BetRepository stores admin-authored bets.
type BetRepository interface {
	InsertBet(ctx context.Context, bet domain.Bet) error
	// ListBets returns bets in creation order.
	ListBets(ctx context.Context) ([]domain.Bet, error)
	DeleteBet(ctx context.Context, id string) error
}

// SubmissionRepository stores raw user submissions. It is append-only.
type SubmissionRepository interface {
	InsertSubmission(ctx context.Context, sub domain.Submission) error
	// ListSubmissions returns every submission in the order it was stored.
	ListSubmissions(ctx context.Context) ([]domain.Submission, error)
}

// KeyReader returns the authoritative answer key.
type KeyReader interface {
	ActiveKey(ctx context.Context) (domain.AnswerKey, error)
}

// KeyRepository stores answer keys. Inserting a key deactivates every older key.
type KeyRepository interface {
	KeyReader
	InsertActiveKey(ctx context.Context, key domain.AnswerKey) error
}

// KeyCache fronts a KeyReader (in-memory, Redis, etc).
type KeyCache interface {
	KeyReader
	Invalidate(ctx context.Context) error
}

// WinnerRepository holds the published homepage winners.
type WinnerRepository interface {
	// ReplaceWinners drops the previous set and stores winners in its place.
	ReplaceWinners(ctx context.Context, winners []domain.PublishedWinner) error
	ListWinners(ctx context.Context) ([]domain.PublishedWinner, error)
}

// UserRepository is the identity directory.
type UserRepository interface {
	InsertUser(ctx context.Context, user domain.User) error
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	SetAdmin(ctx context.Context, userID string, admin bool) error
}

// Store bundles the document collections the bet workflow needs.
type Store interface {
	BetRepository
	SubmissionRepository
	KeyRepository
	WinnerRepository
}

// SessionStore keeps signed-in principals by token.
type SessionStore interface {
	Save(ctx context.Context, principal domain.Principal) error
	Load(ctx context.Context, token string) (domain.Principal, error)
	Delete(ctx context.Context, token string) error
}

// Notifier receives collection changes (local feed, Redis bus, etc).
type Notifier interface {
	Publish(ctx context.Context, change domain.Change)
}
