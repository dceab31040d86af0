package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examroom/internal/model"
)

var ErrInvalidToken = errors.New("invalid exam token")

// Gate tracks which exams a learner has unlocked by redeeming a token.
// An exam with an empty token is never locked.
type Gate struct {
	store KVStore
	now   func() time.Time
}

func NewGate(store KVStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Key is the store key for one learner and exam.
func Key(learnerID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d:%s", learnerID, examID)
}

// TokenMatches compares an entered token with the exam's token, ignoring
// surrounding whitespace and case.
func TokenMatches(examToken, input string) bool {
	want := strings.TrimSpace(examToken)
	if want == "" {
		return false
	}
	return strings.EqualFold(want, strings.TrimSpace(input))
}

// Redeem unlocks exam for the learner when input matches its token.
// Redeeming an unlocked exam again is a no-op. A mismatch leaves the
// store untouched.
func (g *Gate) Redeem(ctx context.Context, learnerID int, exam *model.Exam, input string) error {
	if !Gated(exam) {
		return nil
	}
	if !TokenMatches(exam.Token, input) {
		return ErrInvalidToken
	}
	return g.mark(ctx, learnerID, exam.ID)
}

// RedeemAny unlocks the first gated exam whose token matches input.
func (g *Gate) RedeemAny(ctx context.Context, learnerID int, exams []model.Exam, input string) (*model.Exam, error) {
	for i := range exams {
		e := &exams[i]
		if !Gated(e) || !TokenMatches(e.Token, input) {
			continue
		}
		if err := g.mark(ctx, learnerID, e.ID); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, ErrInvalidToken
}

// IsUnlocked reports whether the learner may start exam.
func (g *Gate) IsUnlocked(ctx context.Context, learnerID int, exam *model.Exam) (bool, error) {
	if !Gated(exam) {
		return true, nil
	}
	ok, err := g.store.Contains(ctx, Key(learnerID, exam.ID))
	if err != nil {
		return false, fmt.Errorf("check unlock: %w", err)
	}
	return ok, nil
}

// UnlockedAt returns when the learner redeemed the exam's token.
func (g *Gate) UnlockedAt(ctx context.Context, learnerID int, examID uuid.UUID) (time.Time, bool, error) {
	v, ok, err := g.store.Get(ctx, Key(learnerID, examID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, true, nil
	}
	return t, true, nil
}

func (g *Gate) mark(ctx context.Context, learnerID int, examID uuid.UUID) error {
	key := Key(learnerID, examID)
	ok, err := g.store.Contains(ctx, key)
	if err != nil {
		return fmt.Errorf("check unlock: %w", err)
	}
	if ok {
		return nil
	}
	if err := g.store.Set(ctx, key, g.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store unlock: %w", err)
	}
	return nil
}

// Gated reports whether exam requires a token.
func Gated(exam *model.Exam) bool {
	return strings.TrimSpace(exam.Token) != ""
}
