// Package debate runs O/X prediction markets and pays the winners.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stocksim/internal/ledger"
	"stocksim/internal/metrics"
	"stocksim/internal/model"
	"stocksim/internal/store"
)

const maxTopicLength = 280

type CloseResult struct {
	DebateID string   `json:"debate_id"`
	Correct  string   `json:"correct_answer"`
	Winners  int      `json:"winners"`
	Rewarded int      `json:"rewarded"`
	Failed   []string `json:"failed,omitempty"`
}

type Service struct {
	store       store.Store
	ledgers     *ledger.Service
	rules       model.Rules
	parallelism int
	log         *slog.Logger
}

func NewService(st store.Store, ledgers *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ledgers: ledgers, rules: ledgers.Rules(), parallelism: 8, log: logger}
}

func (s *Service) Create(ctx context.Context, id model.Identity, topic string) (*model.Debate, error) {
	if !id.IsAdmin {
		return nil, model.ErrPermissionDenied
	}
	topic = strings.TrimSpace(topic)
	if topic == "" || len(topic) > maxTopicLength {
		return nil, fmt.Errorf("%w: topic must be 1-%d characters", model.ErrInvalidArgument, maxTopicLength)
	}
	d := &model.Debate{
		ID:        uuid.NewString(),
		Topic:     topic,
		Voters:    map[string]model.Choice{},
		Status:    model.DebateProgressing,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDebate(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("debate created", "debate_id", d.ID, "by", id.UserID)
	return d, nil
}

func (s *Service) Vote(ctx context.Context, debateID, userID string, choice model.Choice) (*model.Debate, error) {
	return s.update(ctx, debateID, func(d *model.Debate) error {
		if d.Status == model.DebateClosed {
			return model.ErrDebateClosed
		}
		if _, ok := d.Voters[userID]; ok {
			return model.ErrAlreadyVoted
		}
		if d.Voters == nil {
			d.Voters = map[string]model.Choice{}
		}
		d.Voters[userID] = choice
		switch choice {
		case model.ChoiceO:
			d.OVotes++
		case model.ChoiceX:
			d.XVotes++
		}
		return nil
	})
}

// Close settles the debate. The closed status is committed before any
// payout, so a debate pays out at most once even if Close races itself.
func (s *Service) Close(ctx context.Context, id model.Identity, debateID string, correct model.Choice) (CloseResult, error) {
	if !id.IsAdmin {
		return CloseResult{}, model.ErrPermissionDenied
	}
	d, err := s.update(ctx, debateID, func(d *model.Debate) error {
		if d.Status == model.DebateClosed {
			return model.ErrDebateClosed
		}
		d.Status = model.DebateClosed
		d.CorrectAnswer = correct
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	var winners []string
	for uid, c := range d.Voters {
		if c == correct {
			winners = append(winners, uid)
		}
	}
	sort.Strings(winners)

	res := CloseResult{DebateID: d.ID, Correct: string(correct), Winners: len(winners)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, uid := range winners {
		g.Go(func() error {
			err := s.payWinner(ctx, uid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, uid)
				s.log.Error("debate reward failed", "debate_id", d.ID, "user_id", uid, "err", err)
				return nil
			}
			res.Rewarded++
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Failed)

	s.log.Info("debate closed",
		"debate_id", d.ID,
		"correct", correct,
		"winners", res.Winners,
		"rewarded", res.Rewarded,
		"failed", len(res.Failed),
	)
	return res, nil
}

func (s *Service) payWinner(ctx context.Context, userID string) error {
	if _, err := s.ledgers.CreditReward(ctx, userID, s.rules.DebateReward); err != nil {
		return err
	}
	metrics.RewardsPaid.WithLabelValues("debate").Inc()
	rules := s.rules.Quest()
	return s.store.UpdateQuestProgress(ctx, userID, func(q *model.QuestProgress) error {
		q.RecordCorrectAnswer(rules)
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id model.Identity, debateID string) error {
	if !id.IsAdmin {
		return model.ErrPermissionDenied
	}
	if err := s.store.DeleteDebate(ctx, debateID); err != nil {
		return mapStoreError(err)
	}
	s.log.Info("debate deleted", "debate_id", debateID, "by", id.UserID)
	return nil
}

func (s *Service) Get(ctx context.Context, debateID string) (*model.Debate, error) {
	d, err := s.store.GetDebate(ctx, debateID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return d, nil
}

func (s *Service) List(ctx context.Context) ([]model.Debate, error) {
	return s.store.ListDebates(ctx)
}

// update is a compare-and-swap loop on the debate's version.
func (s *Service) update(ctx context.Context, debateID string, fn func(*model.Debate) error) (*model.Debate, error) {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		d, err := s.store.GetDebate(ctx, debateID)
		if err != nil {
			return nil, mapStoreError(err)
		}
		if err := fn(d); err != nil {
			return nil, err
		}
		err = s.store.UpdateDebate(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, mapStoreError(err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return nil, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return nil, ledger.ErrTxConflict
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
