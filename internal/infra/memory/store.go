package memory

import (
	"context"
	"sync"

	"wedding-bet-service/internal/domain"
)

// Store is an in-memory implementation of app.Store and app.UserRepository.
type Store struct {
	mu          sync.RWMutex
	bets        []domain.Bet
	submissions []domain.Submission
	keys        []domain.AnswerKey
	winners     []domain.PublishedWinner
	users       map[string]domain.User // by id
	emails      map[string]string      // email -> id
}

func NewStore() *Store {
	return &Store{
		users:  make(map[string]domain.User),
		emails: make(map[string]string),
	}
}

func (s *Store) InsertBet(_ context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet.Options = append([]string{}, bet.Options...)
	s.bets = append(s.bets, bet)
	return nil
}

func (s *Store) ListBets(_ context.Context) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Bet, len(s.bets))
	for i, bet := range s.bets {
		bet.Options = append([]string{}, bet.Options...)
		out[i] = bet
	}
	return out, nil
}

func (s *Store) DeleteBet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bets {
		if s.bets[i].ID == id {
			s.bets = append(s.bets[:i], s.bets[i+1:]...)
			return nil
		}
	}
	return domain.ErrBetNotFound
}

func (s *Store) InsertSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Answers = cloneAnswers(sub.Answers)
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *Store) ListSubmissions(_ context.Context) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Submission, len(s.submissions))
	for i, sub := range s.submissions {
		sub.Answers = cloneAnswers(sub.Answers)
		out[i] = sub
	}
	return out, nil
}

func (s *Store) InsertActiveKey(_ context.Context, key domain.AnswerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		s.keys[i].Active = false
	}
	key.Active = true
	key.Answers = cloneAnswers(key.Answers)
	s.keys = append(s.keys, key)
	return nil
}

func (s *Store) ActiveKey(_ context.Context) (domain.AnswerKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.keys) - 1; i >= 0; i-- {
		if s.keys[i].Active {
			return cloneKey(s.keys[i]), nil
		}
	}
	return domain.AnswerKey{}, domain.ErrMissingAnswerKey
}

// Keys returns every stored key, oldest first.
func (s *Store) Keys() []domain.AnswerKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AnswerKey, len(s.keys))
	for i, key := range s.keys {
		out[i] = cloneKey(key)
	}
	return out
}

func (s *Store) ReplaceWinners(_ context.Context, winners []domain.PublishedWinner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winners = append([]domain.PublishedWinner{}, winners...)
	return nil
}

func (s *Store) ListWinners(_ context.Context) ([]domain.PublishedWinner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PublishedWinner, len(s.winners))
	copy(out, s.winners)
	return out, nil
}

func (s *Store) InsertUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[user.Email]; ok {
		return domain.ErrEmailTaken
	}
	user.PasswordHash = append([]byte(nil), user.PasswordHash...)
	s.users[user.ID] = user
	s.emails[user.Email] = user.ID
	return nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	user := s.users[id]
	user.PasswordHash = append([]byte(nil), user.PasswordHash...)
	return user, nil
}

func (s *Store) SetAdmin(_ context.Context, userID string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Admin = admin
	s.users[userID] = user
	return nil
}

func cloneKey(key domain.AnswerKey) domain.AnswerKey {
	key.Answers = cloneAnswers(key.Answers)
	return key
}

func cloneAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
