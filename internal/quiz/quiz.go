// Package quiz pays a capped number of quiz rewards per season.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stocksim/internal/ledger"
	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/store"
)

type Eligibility struct {
	Eligible  bool            `json:"eligible"`
	TriesUsed int             `json:"tries_used"`
	TriesLeft int             `json:"tries_left"`
	Reward    decimal.Decimal `json:"reward"`
}

type Result struct {
	Correct  bool            `json:"correct"`
	Rewarded decimal.Decimal `json:"rewarded"`
	Cash     decimal.Decimal `json:"cash"`
}

type Service struct {
	store   store.Store
	ledgers *ledger.Service
	rules   model.Rules
	log     *slog.Logger
}

func NewService(st store.Store, ledgers *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ledgers: ledgers, rules: ledgers.Rules(), log: logger}
}

func (s *Service) Eligibility(ctx context.Context, userID string) (Eligibility, error) {
	l, err := s.ledgers.Get(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	used := l.Account.QuizTries
	left := max(s.rules.QuizTriesPerSeason-used, 0)
	return Eligibility{
		Eligible:  l.Account.Status == model.AccountActive && left > 0,
		TriesUsed: used,
		TriesLeft: left,
		Reward:    s.rules.QuizReward,
	}, nil
}

// Submit grades an answer. A correct answer credits the reward and uses one
// of the season's tries in the same ledger commit.
func (s *Service) Submit(ctx context.Context, userID, quizID string, answer int) (Result, error) {
	q, err := s.store.GetQuiz(ctx, quizID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: quiz %s", model.ErrNotFound, quizID)
	}
	if err != nil {
		return Result{}, err
	}
	if answer < 0 || answer >= len(q.Choices) {
		return Result{}, fmt.Errorf("%w: answer must be between 0 and %d", model.ErrInvalidArgument, len(q.Choices)-1)
	}

	el, err := s.Eligibility(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if el.TriesLeft == 0 {
		return Result{}, model.ErrQuizLimitReached
	}
	if answer != q.AnswerIndex {
		return Result{Correct: false}, nil
	}

	l, err := s.ledgers.Update(ctx, userID, func(l *model.Ledger) (ledger.Effects, error) {
		if l.Account.Status != model.AccountActive {
			return ledger.Effects{}, model.ErrAccountInactive
		}
		if l.Account.QuizTries >= s.rules.QuizTriesPerSeason {
			return ledger.Effects{}, model.ErrQuizLimitReached
		}
		l.Account.QuizTries++
		return ledger.Effects{}, ledger.Credit(l, s.rules.QuizReward)
	})
	if err != nil {
		return Result{}, err
	}
	metrics.RewardsPaid.WithLabelValues("quiz").Inc()
	s.log.Info("quiz reward paid", "user_id", userID, "quiz_id", quizID, "tries", l.Account.QuizTries)
	return Result{Correct: true, Rewarded: s.rules.QuizReward, Cash: l.Account.Cash}, nil
}

func (s *Service) Create(ctx context.Context, id model.Identity, question string, choices []string, answer int) (*model.Quiz, error) {
	if !id.IsAdmin {
		return nil, model.ErrPermissionDenied
	}
	question = strings.TrimSpace(question)
	if question == "" || len(choices) < 2 {
		return nil, fmt.Errorf("%w: a quiz needs a question and at least two choices", model.ErrInvalidArgument)
	}
	if answer < 0 || answer >= len(choices) {
		return nil, fmt.Errorf("%w: answer index out of range", model.ErrInvalidArgument)
	}
	q := &model.Quiz{ID: uuid.NewString(), Question: question, Choices: choices, AnswerIndex: answer}
	if err := s.store.CreateQuiz(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Delete removes a quiz. Rewards already paid for it stay paid.
func (s *Service) Delete(ctx context.Context, id model.Identity, quizID string) error {
	if !id.IsAdmin {
		return model.ErrPermissionDenied
	}
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: quiz %s", model.ErrNotFound, quizID)
		}
		return err
	}
	s.log.Info("quiz deleted", "quiz_id", quizID, "by", id.UserID)
	return nil
}

func (s *Service) List(ctx context.Context) ([]model.Quiz, error) {
	return s.store.ListQuizzes(ctx)
}
