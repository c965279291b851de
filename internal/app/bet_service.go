package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"wedding-bet-service/internal/domain"
	"wedding-bet-service/internal/scoring"
)

// BetService contains the bet, answer key and winner use cases.
type BetService struct {
	store    Store
	keys     KeyCache
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewBetService wires the bet workflow. keys may be nil, in which case the
// active key is read from the store on every call.
func NewBetService(store Store, keys KeyCache, notifier Notifier, log zerolog.Logger) *BetService {
	return &BetService{
		store:    store,
		keys:     keys,
		notifier: notifier,
		log:      log.With().Str("component", "bets").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *BetService) WithClock(now func() time.Time) *BetService {
	s.now = now
	return s
}

// ListBets returns every bet in creation order.
func (s *BetService) ListBets(ctx context.Context) ([]domain.Bet, error) {
	bets, err := s.store.ListBets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	return bets, nil
}

// CreateBet validates and stores a new bet.
func (s *BetService) CreateBet(ctx context.Context, p *domain.Principal, draft domain.BetDraft) (domain.Bet, error) {
	if err := requireAdmin(p); err != nil {
		return domain.Bet{}, err
	}

	bet, err := s.buildBet(draft)
	if err != nil {
		return domain.Bet{}, err
	}
	if err := s.store.InsertBet(ctx, bet); err != nil {
		return domain.Bet{}, fmt.Errorf("insert bet: %w", err)
	}

	s.log.Info().Str("bet", bet.ID).Str("by", p.UserID).Msg("bet created")
	s.publish(ctx, domain.CollectionBets, bet.ID)
	return bet, nil
}

// DeleteBet removes a bet. Submissions and keys that mention it are kept.
func (s *BetService) DeleteBet(ctx context.Context, p *domain.Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if err := s.store.DeleteBet(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("bet", id).Str("by", p.UserID).Msg("bet deleted")
	s.publish(ctx, domain.CollectionBets, id)
	return nil
}

// SubmitAnswers appends a submission for the caller. Every bet must be answered.
func (s *BetService) SubmitAnswers(ctx context.Context, p *domain.Principal, answers map[string]string) (domain.Submission, error) {
	if p == nil {
		return domain.Submission{}, domain.ErrUnauthenticated
	}

	bets, err := s.ListBets(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := validateAnswers(bets, answers, "please answer every bet before submitting"); err != nil {
		return domain.Submission{}, err
	}

	sub := domain.Submission{
		ID:          s.newID(),
		UserID:      p.UserID,
		UserName:    p.Name,
		Answers:     answers,
		SubmittedAt: s.now(),
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}

	s.log.Info().Str("user", p.UserID).Str("submission", sub.ID).Msg("answers submitted")
	s.publish(ctx, domain.CollectionAnswers, sub.ID)
	return sub, nil
}

// SubmitAnswerKey stores a new authoritative key, replacing the active one.
func (s *BetService) SubmitAnswerKey(ctx context.Context, p *domain.Principal, answers map[string]string) (domain.AnswerKey, error) {
	if err := requireAdmin(p); err != nil {
		return domain.AnswerKey{}, err
	}

	bets, err := s.ListBets(ctx)
	if err != nil {
		return domain.AnswerKey{}, err
	}
	if err := validateAnswers(bets, answers, "please provide an answer for all questions before submitting"); err != nil {
		return domain.AnswerKey{}, err
	}

	key := domain.AnswerKey{
		ID:          s.newID(),
		SubmittedBy: p.UserID,
		SubmittedAt: s.now(),
		Answers:     answers,
		Active:      true,
	}
	if err := s.store.InsertActiveKey(ctx, key); err != nil {
		return domain.AnswerKey{}, fmt.Errorf("insert answer key: %w", err)
	}
	if s.keys != nil {
		if err := s.keys.Invalidate(ctx); err != nil {
			s.log.Warn().Err(err).Msg("answer key cache invalidation failed")
		}
	}

	s.log.Info().Str("key", key.ID).Str("by", p.UserID).Msg("answer key submitted")
	s.publish(ctx, domain.CollectionKeys, key.ID)
	return key, nil
}

// ActiveKey returns the authoritative answer key.
func (s *BetService) ActiveKey(ctx context.Context, p *domain.Principal) (domain.AnswerKey, error) {
	if err := requireAdmin(p); err != nil {
		return domain.AnswerKey{}, err
	}
	return s.activeKey(ctx)
}

// ResolveWinners scores a snapshot of all submissions against the active key.
func (s *BetService) ResolveWinners(ctx context.Context, p *domain.Principal) (scoring.Result, error) {
	if err := requireAdmin(p); err != nil {
		return scoring.Result{}, err
	}

	key, err := s.activeKey(ctx)
	if err != nil {
		return scoring.Result{}, err
	}
	subs, err := s.store.ListSubmissions(ctx)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("list submissions: %w", err)
	}

	res, err := scoring.Resolve(key.Answers, subs)
	if err != nil {
		return scoring.Result{}, err
	}
	s.log.Info().
		Str("status", string(res.Status)).
		Int("participants", len(res.Ranked)).
		Int("winners", len(res.Winners)).
		Int("max_score", res.MaxScore).
		Msg("winners resolved")
	return res, nil
}

// PublishWinners replaces the homepage winners with the chosen users. An empty
// selection publishes the current winner set.
func (s *BetService) PublishWinners(ctx context.Context, p *domain.Principal, userIDs []string) ([]domain.PublishedWinner, error) {
	res, err := s.ResolveWinners(ctx, p)
	if err != nil {
		return nil, err
	}

	chosen := res.Winners
	if len(userIDs) > 0 {
		chosen, err = pickUsers(res.Ranked, userIDs)
		if err != nil {
			return nil, err
		}
	}

	displayedAt := s.now()
	winners := lo.Map(chosen, func(u domain.ScoredUser, _ int) domain.PublishedWinner {
		return domain.PublishedWinner{
			UserID:      u.UserID,
			UserName:    u.UserName,
			Score:       u.Score,
			DisplayedAt: displayedAt,
		}
	})
	if err := s.store.ReplaceWinners(ctx, winners); err != nil {
		return nil, fmt.Errorf("replace winners: %w", err)
	}

	s.log.Info().Int("count", len(winners)).Str("by", p.UserID).Msg("homepage winners published")
	s.publish(ctx, domain.CollectionWinners, "")
	return winners, nil
}

// PublishedWinners lists the homepage winners.
func (s *BetService) PublishedWinners(ctx context.Context) ([]domain.PublishedWinner, error) {
	winners, err := s.store.ListWinners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}
	return winners, nil
}

func (s *BetService) activeKey(ctx context.Context) (domain.AnswerKey, error) {
	if s.keys != nil {
		return s.keys.ActiveKey(ctx)
	}
	return s.store.ActiveKey(ctx)
}

func (s *BetService) publish(ctx context.Context, collection, docID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, domain.Change{Collection: collection, DocumentID: docID, At: s.now()})
}

func (s *BetService) buildBet(draft domain.BetDraft) (domain.Bet, error) {
	verr := &domain.ValidationError{}
	question := strings.TrimSpace(draft.Question)
	if question == "" {
		verr.Add("question", "required")
	}

	var options []string
	switch draft.Kind {
	case domain.KindMultipleChoice:
		options = lo.Filter(draft.Options, func(opt string, _ int) bool {
			return strings.TrimSpace(opt) != ""
		})
		if len(options) == 0 {
			verr.Add("options", "multiple-choice bets need at least one option")
		} else if len(lo.Uniq(options)) != len(options) {
			verr.Add("options", "options must be unique")
		}
	case domain.KindOpenEnded:
		options = []string{}
	default:
		verr.Add("type", "must be multiple-choice or open-ended")
	}
	if !verr.Empty() {
		return domain.Bet{}, verr
	}

	return domain.Bet{
		ID:        s.newID(),
		Question:  question,
		Kind:      draft.Kind,
		Options:   options,
		CreatedAt: s.now(),
	}, nil
}

// validateAnswers requires exactly one answer per bet. Answers are stored verbatim.
func validateAnswers(bets []domain.Bet, answers map[string]string, missingMsg string) error {
	if len(bets) == 0 {
		return domain.ErrNoBets
	}

	verr := &domain.ValidationError{}
	byID := lo.KeyBy(bets, func(b domain.Bet) string { return b.ID })
	for betID := range answers {
		if _, ok := byID[betID]; !ok {
			verr.Add(betID, "unknown bet")
		}
	}
	for _, bet := range bets {
		answer, ok := answers[bet.ID]
		switch {
		case !ok || strings.TrimSpace(answer) == "":
			verr.Add(bet.ID, missingMsg)
		case bet.Kind == domain.KindMultipleChoice && !bet.HasOption(answer):
			verr.Add(bet.ID, "answer is not one of the options")
		}
	}
	if !verr.Empty() {
		return verr
	}
	return nil
}

func pickUsers(ranked []domain.ScoredUser, userIDs []string) ([]domain.ScoredUser, error) {
	byID := lo.KeyBy(ranked, func(u domain.ScoredUser) string { return u.UserID })
	chosen := make([]domain.ScoredUser, 0, len(userIDs))
	for _, id := range lo.Uniq(userIDs) {
		u, ok := byID[id]
		if !ok {
			return nil, domain.NewValidationError("userIds", "unknown participant "+id)
		}
		chosen = append(chosen, u)
	}
	return chosen, nil
}

func requireAdmin(p *domain.Principal) error {
	if p == nil {
		return domain.ErrUnauthenticated
	}
	if !p.Admin {
		return domain.ErrPermissionDenied
	}
	return nil
}
