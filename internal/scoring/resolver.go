// Package scoring compares guest submissions against the answer key.
package scoring

import (
	"sort"

	"github.com/samber/lo"

	"wedding-bet-service/internal/domain"
)

// Status describes which kind of result Resolve produced.
type Status string

const (
	StatusScored        Status = "scored"
	StatusNoSubmissions Status = "no-submissions"
)

// Result is the outcome of a scoring pass.
type Result struct {
	Status   Status              `json:"status"`
	Ranked   []domain.ScoredUser `json:"ranked"`
	Winners  []domain.ScoredUser `json:"winners"`
	MaxScore int                 `json:"maxScore"`
}

// Score counts the bets where answers and key hold exactly the same string.
// Bets present on only one side count for nothing.
func Score(key, answers map[string]string) int {
	score := 0
	for betID, answer := range answers {
		if correct, ok := key[betID]; ok && answer == correct {
			score++
		}
	}
	return score
}

// Resolve scores every submission, keeps the best submission of each user and
// ranks users by score. Users tied on score keep the order in which they were
// first seen. A max score of zero never produces winners.
func Resolve(key map[string]string, submissions []domain.Submission) (Result, error) {
	if len(key) == 0 {
		return Result{}, domain.ErrMissingAnswerKey
	}
	if len(submissions) == 0 {
		return Result{
			Status:  StatusNoSubmissions,
			Ranked:  []domain.ScoredUser{},
			Winners: []domain.ScoredUser{},
		}, nil
	}

	best := make(map[string]int, len(submissions)) // userID -> index in ranked
	ranked := make([]domain.ScoredUser, 0, len(submissions))
	for _, sub := range submissions {
		score := Score(key, sub.Answers)
		idx, seen := best[sub.UserID]
		if !seen {
			best[sub.UserID] = len(ranked)
			ranked = append(ranked, scored(sub, score))
			continue
		}
		// Highest score wins, not the latest submission.
		if score > ranked[idx].Score {
			ranked[idx] = scored(sub, score)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	maxScore := ranked[0].Score
	winners := lo.Filter(ranked, func(u domain.ScoredUser, _ int) bool {
		return maxScore > 0 && u.Score == maxScore
	})

	return Result{
		Status:   StatusScored,
		Ranked:   ranked,
		Winners:  winners,
		MaxScore: maxScore,
	}, nil
}

func scored(sub domain.Submission, score int) domain.ScoredUser {
	return domain.ScoredUser{
		UserID:   sub.UserID,
		UserName: sub.UserName,
		Score:    score,
		Answers:  sub.Answers,
	}
}
