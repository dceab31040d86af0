package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/session"
	"github.com/stemsi/examroom/internal/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExams struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExams) ListAvailable(context.Context) ([]model.Exam, error) {
	out := make([]model.Exam, 0, len(f.exams))
	for _, e := range f.exams {
		out = append(out, *e)
	}
	return out, nil
}

type fakeQuestions struct {
	byExam map[uuid.UUID][]model.Question
	onList func()
}

func (f *fakeQuestions) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	if f.onList != nil {
		f.onList()
	}
	return f.byExam[examID], nil
}

func (f *fakeQuestions) Create(_ context.Context, q *model.Question) error {
	q.ID = uuid.New()
	f.byExam[q.ExamID] = append(f.byExam[q.ExamID], *q)
	return nil
}

func (f *fakeQuestions) Update(_ context.Context, q *model.Question) error {
	for i, cur := range f.byExam[q.ExamID] {
		if cur.ID == q.ID {
			f.byExam[q.ExamID][i] = *q
			return nil
		}
	}
	return model.ErrNotFound
}

func (f *fakeQuestions) Delete(_ context.Context, examID, id uuid.UUID) error {
	qs := f.byExam[examID]
	for i, cur := range qs {
		if cur.ID == id {
			f.byExam[examID] = append(qs[:i:i], qs[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

type fakeSubmissions struct {
	mu    sync.Mutex
	subs  []model.Submission
	fails int
}

func (f *fakeSubmissions) Create(_ context.Context, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("db down")
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	f.subs = append(f.subs, *s)
	return nil
}

func (f *fakeSubmissions) ExistsForStudent(_ context.Context, examID uuid.UUID, studentID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ExamID == examID && s.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubmissions) ListByStudent(_ context.Context, studentID int) ([]model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Submission
	for _, s := range f.subs {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeFeed struct {
	mu         sync.Mutex
	events     []MonitorEvent
	violations []model.Violation
}

func (f *fakeFeed) Publish(_ context.Context, _ uuid.UUID, ev MonitorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeFeed) QueueViolation(_ context.Context, v model.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, v)
	return nil
}

func (f *fakeFeed) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

// idleTicker never fires, so attempts only end on request.
type idleTicker struct{ ch chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.ch }
func (t idleTicker) Stop()               {}

type sessionFixture struct {
	svc       *ExamSessionService
	exam      *model.Exam
	questions *fakeQuestions
	subs      *fakeSubmissions
	feed      *fakeFeed
	metrics   *metrics.Metrics
}

func newSessionFixture(t *testing.T, token string) *sessionFixture {
	t.Helper()
	exam := &model.Exam{ID: uuid.New(), Title: "Biology", DurationInMinutes: 30, Token: token}
	q := model.Question{ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeTrueFalse, QuestionText: "Cells divide?", CorrectAnswer: "true"}

	f := &sessionFixture{
		exam:      exam,
		questions: &fakeQuestions{byExam: map[uuid.UUID][]model.Question{exam.ID: {q}}},
		subs:      &fakeSubmissions{},
		feed:      &fakeFeed{},
		metrics:   metrics.New(false),
	}
	f.svc = NewExamSessionService(
		&fakeExams{exams: map[uuid.UUID]*model.Exam{exam.ID: exam}},
		f.questions,
		f.subs,
		unlock.NewGate(unlock.NewMemoryStore()),
		f.feed,
		f.metrics,
		SessionConfig{
			ViolationLimit: 2,
			SettleInterval: 10 * time.Millisecond,
			NewTicker:      func(time.Duration) session.Ticker { return idleTicker{ch: make(chan time.Time)} },
			AfterFunc:      func(_ time.Duration, fn func()) { go fn() },
		},
		zerolog.Nop(),
	)
	return f
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestStartRequiresUnlock(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, "AB12CD34")

	_, err := f.svc.Start(ctx, 7, f.exam.ID, nil)
	assert.ErrorIs(t, err, ErrExamLocked)
	assert.Nil(t, f.svc.Attempt(7, f.exam.ID))

	assert.ErrorIs(t, f.svc.UnlockExam(ctx, 7, f.exam.ID, "nope"), unlock.ErrInvalidToken)
	require.NoError(t, f.svc.UnlockExam(ctx, 7, f.exam.ID, " ab12cd34 "))

	ctrl, err := f.svc.Start(ctx, 7, f.exam.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, ctrl.State())
	assert.Same(t, ctrl, f.svc.Attempt(7, f.exam.ID))

	_, err = f.svc.Start(ctx, 7, f.exam.ID, nil)
	assert.ErrorIs(t, err, ErrAttemptActive)

	lobby, err := f.svc.GetLobby(ctx, 7)
	require.NoError(t, err)
	require.Len(t, lobby, 1)
	assert.Equal(t, LobbyStatusInProgress, lobby[0].LobbyStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRedemptions.WithLabelValues("invalid")))
}

func TestStartUnknownExam(t *testing.T) {
	f := newSessionFixture(t, "")
	_, err := f.svc.Start(context.Background(), 7, uuid.New(), nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, f.svc.ActiveCount())
}

func TestStartOutsideWindow(t *testing.T) {
	f := newSessionFixture(t, "")
	opens := time.Now().Add(time.Hour)
	f.exam.OpenTime = &opens

	_, err := f.svc.Start(context.Background(), 7, f.exam.ID, nil)
	assert.ErrorIs(t, err, session.ErrAccessDenied)
	assert.Zero(t, f.svc.ActiveCount())
}

func TestSubmitThenStartAgain(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, "")

	events := make(chan session.Event, 16)
	ctrl, err := f.svc.Start(ctx, 7, f.exam.ID, func(ev session.Event) { events <- ev })
	require.NoError(t, err)

	require.True(t, ctrl.ForceSubmit())
	waitFor(t, ctrl.Done())
	assert.Eventually(t, func() bool { return f.svc.Attempt(7, f.exam.ID) == nil }, time.Second, 5*time.Millisecond)

	_, err = f.svc.Start(ctx, 7, f.exam.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, 1, f.subs.count())

	lobby, err := f.svc.GetLobby(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusSubmitted, lobby[0].LobbyStatus)
	assert.Nil(t, lobby[0].Score)

	assert.Equal(t, []string{MonitorJoined, MonitorSubmitted}, f.feed.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Terminations.WithLabelValues(string(session.ReasonManual))))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(f.metrics.SessionsActive) == 0 }, time.Second, 5*time.Millisecond)

	var submitted bool
	for len(events) > 0 {
		if ev := <-events; ev.Kind == session.EventSubmitted {
			submitted = true
		}
	}
	assert.True(t, submitted)
}

func TestViolationsAreQueued(t *testing.T) {
	f := newSessionFixture(t, "")
	ctrl, err := f.svc.Start(context.Background(), 7, f.exam.ID, nil)
	require.NoError(t, err)

	_, err = ctrl.ReportVisibility(true)
	require.NoError(t, err)

	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	require.Len(t, f.feed.violations, 1)
	assert.Equal(t, 1, f.feed.violations[0].Count)
	assert.Equal(t, f.exam.ID, f.feed.violations[0].ExamID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Violations))
}

func TestReleaseAbandonsRunningAttempt(t *testing.T) {
	f := newSessionFixture(t, "")
	ctrl, err := f.svc.Start(context.Background(), 7, f.exam.ID, nil)
	require.NoError(t, err)

	f.svc.Release(7, f.exam.ID)
	assert.Equal(t, session.StateAbandoned, ctrl.State())
	assert.Eventually(t, func() bool { return f.svc.Attempt(7, f.exam.ID) == nil }, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.subs.count())
	assert.Contains(t, f.feed.types(), MonitorAbandoned)

	// an abandoned attempt leaves the exam startable
	_, err = f.svc.Start(context.Background(), 7, f.exam.ID, nil)
	assert.NoError(t, err)
}

func TestReleaseRetriesFailedSubmission(t *testing.T) {
	f := newSessionFixture(t, "")
	f.subs.fails = 1

	failed := make(chan struct{}, 1)
	ctrl, err := f.svc.Start(context.Background(), 7, f.exam.ID, func(ev session.Event) {
		if ev.Kind == session.EventSubmitFailed {
			failed <- struct{}{}
		}
	})
	require.NoError(t, err)

	require.True(t, ctrl.ForceSubmit())
	waitFor(t, failed)

	f.svc.Release(7, f.exam.ID)
	waitFor(t, ctrl.Done())
	assert.Equal(t, 1, f.subs.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubmitFailures))
}

func TestShutdownSubmitsRunningAttempts(t *testing.T) {
	f := newSessionFixture(t, "")
	for _, sid := range []int{1, 2, 3} {
		_, err := f.svc.Start(context.Background(), sid, f.exam.ID, nil)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, 3, f.subs.count())
}

func TestShutdownAbandonsStartingAttempts(t *testing.T) {
	f := newSessionFixture(t, "")
	_, err := f.svc.Start(context.Background(), 1, f.exam.ID, nil)
	require.NoError(t, err)

	loading, release := make(chan struct{}), make(chan struct{})
	f.questions.onList = func() {
		close(loading)
		<-release
	}
	started := make(chan error, 1)
	go func() {
		_, err := f.svc.Start(context.Background(), 2, f.exam.ID, nil)
		started <- err
	}()
	waitFor(t, loading)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, 1, f.subs.count())

	close(release)
	select {
	case err := <-started:
		assert.ErrorIs(t, err, session.ErrAbandoned)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}
	assert.Nil(t, f.svc.Attempt(2, f.exam.ID))
	assert.Equal(t, 1, f.subs.count())

	_, err = f.svc.Start(context.Background(), 3, f.exam.ID, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRedeemToken(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, "ZX98YW76")

	_, err := f.svc.RedeemToken(ctx, 7, "wrong")
	assert.ErrorIs(t, err, unlock.ErrInvalidToken)

	exam, err := f.svc.RedeemToken(ctx, 7, "zx98yw76")
	require.NoError(t, err)
	assert.Equal(t, f.exam.ID, exam.ID)

	lobby, err := f.svc.GetLobby(ctx, 7)
	require.NoError(t, err)
	assert.True(t, lobby[0].Unlocked)
	assert.Equal(t, LobbyStatusAvailable, lobby[0].LobbyStatus)

	other, err := f.svc.GetLobby(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, LobbyStatusLocked, other[0].LobbyStatus)
}

func TestLobbyStatus(t *testing.T) {
	graded, submitted := model.SubmissionStatusGraded, model.SubmissionStatusSubmitted

	tests := []struct {
		name    string
		entry   LobbyExam
		running bool
		want    LobbyStatus
	}{
		{"graded wins", LobbyExam{SubmissionStatus: &graded, Window: model.WindowClosed}, false, LobbyStatusGraded},
		{"submitted", LobbyExam{SubmissionStatus: &submitted, Window: model.WindowOpen}, false, LobbyStatusSubmitted},
		{"running", LobbyExam{Window: model.WindowOpen, Unlocked: true}, true, LobbyStatusInProgress},
		{"upcoming", LobbyExam{Window: model.WindowUpcoming, Unlocked: true}, false, LobbyStatusUpcoming},
		{"closed", LobbyExam{Window: model.WindowClosed}, false, LobbyStatusClosed},
		{"locked", LobbyExam{Window: model.WindowOpen}, false, LobbyStatusLocked},
		{"available", LobbyExam{Window: model.WindowOpen, Unlocked: true}, false, LobbyStatusAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lobbyStatus(&tt.entry, tt.running))
		})
	}
}
