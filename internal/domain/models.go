package domain

import "time"

// BetKind tells clients how a bet is answered.
type BetKind string

const (
	KindMultipleChoice BetKind = "multiple-choice"
	KindOpenEnded      BetKind = "open-ended"
)

// Valid reports whether k is a known bet kind.
func (k BetKind) Valid() bool {
	return k == KindMultipleChoice || k == KindOpenEnded
}

// Bet is a question guests place a guess on.
type Bet struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Kind      BetKind   `json:"type"`
	Options   []string  `json:"options"` // empty unless Kind is multiple-choice
	CreatedAt time.Time `json:"createdAt"`
}

// HasOption reports whether answer is one of the bet's options.
func (b Bet) HasOption(answer string) bool {
	for _, opt := range b.Options {
		if opt == answer {
			return true
		}
	}
	return false
}

// BetDraft is the admin input for a new bet.
type BetDraft struct {
	Question string   `json:"question" validate:"required"`
	Kind     BetKind  `json:"type" validate:"required,oneof=multiple-choice open-ended"`
	Options  []string `json:"options"`
}

// AnswerKey holds the correct answer for every bet. Only one key is active.
type AnswerKey struct {
	ID          string            `json:"id"`
	SubmittedBy string            `json:"submittedBy"`
	SubmittedAt time.Time         `json:"submittedAt"`
	Answers     map[string]string `json:"answers"`
	Active      bool              `json:"active"`
}

// Submission is one set of guesses by a user. Users may submit more than once.
type Submission struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	UserName    string            `json:"userName"`
	Answers     map[string]string `json:"answers"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// ScoredUser is the best result of a single user against the answer key.
type ScoredUser struct {
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	Score    int               `json:"score"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// PublishedWinner is shown on the public homepage.
type PublishedWinner struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Score       int       `json:"score"`
	DisplayedAt time.Time `json:"displayedAt"`
}

// User is an entry of the identity directory.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the signed-in caller. It is captured once at sign-in and
// dropped at sign-out; operations receive it explicitly.
type Principal struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Admin    bool      `json:"admin"`
	Token    string    `json:"-"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Collection names of the document store.
const (
	CollectionBets     = "bets"
	CollectionAnswers  = "answers"
	CollectionKeys     = "keys"
	CollectionWinners  = "homepageWinners"
	CollectionUsers    = "users"
	CollectionSessions = "sessions"
)

// Change notifies watchers that a collection was modified.
type Change struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId,omitempty"`
	At         time.Time `json:"at"`
}
