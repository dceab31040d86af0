package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/model"
	"github.com/stemsi/examroom/internal/session"
	"github.com/stemsi/examroom/internal/unlock"
)

// Exam session errors.
var (
	ErrExamLocked       = errors.New("exam is locked until its token is redeemed")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrAttemptActive    = errors.New("an attempt at this exam is already running")
	ErrShuttingDown     = errors.New("exam sessions are shutting down")
)

const feedTimeout = 3 * time.Second

// ExamReader loads exams for students.
type ExamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListAvailable(ctx context.Context) ([]model.Exam, error)
}

// QuestionReader loads an exam's questions in display order.
type QuestionReader interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SubmissionRecorder stores finished attempts and answers lobby queries.
type SubmissionRecorder interface {
	Create(ctx context.Context, s *model.Submission) error
	ExistsForStudent(ctx context.Context, examID uuid.UUID, studentID int) (bool, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Submission, error)
}

// SessionConfig tunes every attempt the service starts.
type SessionConfig struct {
	ViolationLimit int
	ViolationDelay time.Duration
	SubmitGrace    time.Duration
	PersistTimeout time.Duration
	// SettleInterval spaces the background retries of a submission whose
	// student disconnected while it was being stored.
	SettleInterval time.Duration
	SettleAttempts int

	NewTicker session.TickerFunc
	AfterFunc func(d time.Duration, f func())
}

// SessionConfigFrom reads the session tuning from the application config.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	return SessionConfig{
		ViolationLimit: cfg.ViolationLimit,
		ViolationDelay: cfg.ViolationSubmitDelay,
		SubmitGrace:    cfg.SubmitGrace,
		PersistTimeout: cfg.PersistTimeout,
	}
}

// LobbyStatus is what the student dashboard offers for an exam.
type LobbyStatus string

const (
	LobbyStatusUpcoming   LobbyStatus = "UPCOMING"
	LobbyStatusLocked     LobbyStatus = "LOCKED"
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusClosed     LobbyStatus = "CLOSED"
	LobbyStatusSubmitted  LobbyStatus = "SUBMITTED"
	LobbyStatusGraded     LobbyStatus = "GRADED"
)

// LobbyExam represents an exam as displayed in the student lobby.
type LobbyExam struct {
	model.ExamForStudent
	Window           model.WindowState       `json:"window"`
	Gated            bool                    `json:"gated"`
	Unlocked         bool                    `json:"unlocked"`
	UnlockedAt       *time.Time              `json:"unlocked_at,omitempty"`
	LobbyStatus      LobbyStatus             `json:"lobby_status"`
	SubmissionID     *uuid.UUID              `json:"submission_id,omitempty"`
	SubmissionStatus *model.SubmissionStatus `json:"submission_status,omitempty"`
	Score            *int                    `json:"score,omitempty"`
}

// LiveAttempt is a proctor's view of one running attempt.
type LiveAttempt struct {
	StudentID        int           `json:"student_id"`
	State            session.State `json:"state"`
	SecondsRemaining int           `json:"seconds_remaining"`
	Violations       int           `json:"violations"`
	Answered         int           `json:"answered"`
}

type liveKey struct {
	examID    uuid.UUID
	studentID int
}

type liveAttempt struct {
	ctrl  *session.Controller
	evict chan struct{}
	once  sync.Once
}

func (a *liveAttempt) release() { a.once.Do(func() { close(a.evict) }) }

// ExamSessionService owns the running attempts of this process and the
// student-facing exam flow around them: lobby, token redemption, start.
type ExamSessionService struct {
	exams       ExamReader
	questions   QuestionReader
	submissions SubmissionRecorder
	gate        *unlock.Gate
	feed        LiveFeed
	metrics     *metrics.Metrics
	cfg         SessionConfig
	log         zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	live    map[liveKey]*liveAttempt
	closing bool
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams ExamReader,
	questions QuestionReader,
	submissions SubmissionRecorder,
	gate *unlock.Gate,
	feed LiveFeed,
	m *metrics.Metrics,
	cfg SessionConfig,
	log zerolog.Logger,
) *ExamSessionService {
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 2 * time.Second
	}
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = 5
	}
	return &ExamSessionService{
		exams:       exams,
		questions:   questions,
		submissions: submissions,
		gate:        gate,
		feed:        feed,
		metrics:     m,
		cfg:         cfg,
		log:         log.With().Str("component", "exam_session_service").Logger(),
		now:         time.Now,
		live:        make(map[liveKey]*liveAttempt),
	}
}

// GetLobby lists every exam that has not closed, with the student's
// unlock and submission state.
func (s *ExamSessionService) GetLobby(ctx context.Context, studentID int) ([]LobbyExam, error) {
	exams, err := s.exams.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	subs, err := s.submissions.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	latest := make(map[uuid.UUID]*model.Submission, len(subs))
	for i := range subs {
		if _, seen := latest[subs[i].ExamID]; !seen {
			latest[subs[i].ExamID] = &subs[i]
		}
	}

	now := s.now()
	lobby := make([]LobbyExam, 0, len(exams))
	for i := range exams {
		e := &exams[i]
		unlocked, err := s.gate.IsUnlocked(ctx, studentID, e)
		if err != nil {
			return nil, err
		}

		entry := LobbyExam{
			ExamForStudent: e.ForStudent(),
			Window:         e.WindowAt(now),
			Gated:          unlock.Gated(e),
			Unlocked:       unlocked,
		}
		if entry.Gated && unlocked {
			if at, ok, err := s.gate.UnlockedAt(ctx, studentID, e.ID); err == nil && ok && !at.IsZero() {
				entry.UnlockedAt = &at
			}
		}
		if sub, ok := latest[e.ID]; ok {
			id, status := sub.ID, sub.Status
			entry.SubmissionID = &id
			entry.SubmissionStatus = &status
			if sub.Graded() {
				score := sub.Score
				entry.Score = &score
			}
		}
		entry.LobbyStatus = lobbyStatus(&entry, s.Attempt(studentID, e.ID) != nil)
		lobby = append(lobby, entry)
	}
	return lobby, nil
}

func lobbyStatus(e *LobbyExam, running bool) LobbyStatus {
	switch {
	case e.SubmissionStatus != nil && *e.SubmissionStatus == model.SubmissionStatusGraded:
		return LobbyStatusGraded
	case e.SubmissionStatus != nil:
		return LobbyStatusSubmitted
	case running:
		return LobbyStatusInProgress
	case e.Window == model.WindowUpcoming:
		return LobbyStatusUpcoming
	case e.Window == model.WindowClosed:
		return LobbyStatusClosed
	case !e.Unlocked:
		return LobbyStatusLocked
	}
	return LobbyStatusAvailable
}

// RedeemToken unlocks whichever available exam the token belongs to.
func (s *ExamSessionService) RedeemToken(ctx context.Context, studentID int, token string) (*model.ExamForStudent, error) {
	exams, err := s.exams.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	exam, err := s.gate.RedeemAny(ctx, studentID, exams, token)
	s.countRedemption(err)
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("student_id", studentID).Str("exam_id", exam.ID.String()).Msg("Exam unlocked")
	view := exam.ForStudent()
	return &view, nil
}

// UnlockExam redeems a token against one specific exam.
func (s *ExamSessionService) UnlockExam(ctx context.Context, studentID int, examID uuid.UUID, token string) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	err = s.gate.Redeem(ctx, studentID, exam, token)
	s.countRedemption(err)
	return err
}

func (s *ExamSessionService) countRedemption(err error) {
	switch {
	case err == nil:
		s.metrics.TokenRedemptions.WithLabelValues("unlocked").Inc()
	case errors.Is(err, unlock.ErrInvalidToken):
		s.metrics.TokenRedemptions.WithLabelValues("invalid").Inc()
	}
}

// Start admits the student to the exam and starts a new attempt. notify
// receives every controller event and may be called from other goroutines.
func (s *ExamSessionService) Start(ctx context.Context, studentID int, examID uuid.UUID, notify func(session.Event)) (*session.Controller, error) {
	key := liveKey{examID: examID, studentID: studentID}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, ok := s.live[key]; ok {
		s.mu.Unlock()
		return nil, ErrAttemptActive
	}
	log := s.log.With().Str("exam_id", examID.String()).Int("student_id", studentID).Logger()
	ctrl := session.NewController(studentID, examID, examSource{s.exams, s.questions}, s.submissions, session.Options{
		ViolationLimit: s.cfg.ViolationLimit,
		ViolationDelay: s.cfg.ViolationDelay,
		SubmitGrace:    s.cfg.SubmitGrace,
		PersistTimeout: s.cfg.PersistTimeout,
		NewTicker:      s.cfg.NewTicker,
		AfterFunc:      s.cfg.AfterFunc,
		Now:            s.now,
		Notify:         s.observe(studentID, examID, notify),
		Log:            &log,
	})
	a := &liveAttempt{ctrl: ctrl, evict: make(chan struct{})}
	s.live[key] = a
	s.mu.Unlock()

	if err := s.admit(ctx, studentID, examID); err != nil {
		s.drop(key, a)
		return nil, err
	}
	if err := ctrl.Start(ctx); err != nil {
		s.drop(key, a)
		return nil, err
	}

	s.metrics.SessionsStarted.Inc()
	s.metrics.SessionsActive.Inc()
	s.publish(examID, MonitorEvent{Type: MonitorJoined, StudentID: studentID})
	go s.watch(key, a)
	return ctrl, nil
}

func (s *ExamSessionService) admit(ctx context.Context, studentID int, examID uuid.UUID) error {
	done, err := s.submissions.ExistsForStudent(ctx, examID, studentID)
	if err != nil {
		return fmt.Errorf("check submission: %w", err)
	}
	if done {
		return ErrAlreadySubmitted
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	ok, err := s.gate.IsUnlocked(ctx, studentID, exam)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExamLocked
	}
	return nil
}

// Attempt returns the running attempt for the student and exam, if any.
func (s *ExamSessionService) Attempt(studentID int, examID uuid.UUID) *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.live[liveKey{examID: examID, studentID: studentID}]; ok {
		return a.ctrl
	}
	return nil
}

// LiveAttempts lists the attempts of one exam running in this process.
func (s *ExamSessionService) LiveAttempts(examID uuid.UUID) []LiveAttempt {
	s.mu.Lock()
	ctrls := make(map[int]*session.Controller)
	for k, a := range s.live {
		if k.examID == examID {
			ctrls[k.studentID] = a.ctrl
		}
	}
	s.mu.Unlock()

	out := make([]LiveAttempt, 0, len(ctrls))
	for sid, c := range ctrls {
		snap := c.Snapshot()
		if snap.State == session.StateGated || snap.State == session.StateLoading {
			continue
		}
		out = append(out, LiveAttempt{
			StudentID:        sid,
			State:            snap.State,
			SecondsRemaining: snap.SecondsRemaining,
			Violations:       snap.Violations,
			Answered:         len(snap.Answers),
		})
	}
	return out
}

// ActiveCount returns how many attempts this process is running.
func (s *ExamSessionService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Release is called when the student's connection goes away. A running
// attempt is abandoned; one already being submitted is left to finish and
// retried in the background if storing it failed.
func (s *ExamSessionService) Release(studentID int, examID uuid.UUID) {
	key := liveKey{examID: examID, studentID: studentID}
	s.mu.Lock()
	a := s.live[key]
	s.mu.Unlock()
	if a == nil {
		return
	}

	if a.ctrl.Abandon() {
		s.metrics.SessionsAbandoned.Inc()
		s.publish(examID, MonitorEvent{Type: MonitorAbandoned, StudentID: studentID, Violations: a.ctrl.Snapshot().Violations})
		return
	}
	select {
	case <-a.ctrl.Done():
	default:
		go s.settle(key, a)
	}
}

func (s *ExamSessionService) settle(key liveKey, a *liveAttempt) {
	log := s.log.With().Str("exam_id", key.examID.String()).Int("student_id", key.studentID).Logger()

	for i := 1; i <= s.cfg.SettleAttempts; i++ {
		select {
		case <-a.ctrl.Done():
			return
		case <-time.After(s.cfg.SettleInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		err := a.ctrl.RetrySubmit(ctx)
		cancel()
		switch {
		case err == nil:
			return
		case errors.Is(err, session.ErrNothingToRetry), errors.Is(err, session.ErrSubmitInProgress):
		default:
			log.Warn().Err(err).Int("attempt", i).Msg("Background submission retry failed")
		}
	}

	log.Error().Msg("Giving up on storing submission after disconnect")
	a.release()
}

// Shutdown refuses new attempts, submits every running attempt and waits
// for them to be stored. Attempts still starting are abandoned.
func (s *ExamSessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	attempts := make([]*liveAttempt, 0, len(s.live))
	for _, a := range s.live {
		attempts = append(attempts, a)
	}
	s.mu.Unlock()

	if len(attempts) == 0 {
		return nil
	}
	s.log.Info().Int("attempts", len(attempts)).Msg("Submitting running attempts before shutdown")

	for _, a := range attempts {
		if !a.ctrl.ForceSubmit() {
			a.ctrl.Abandon()
		}
	}
	for _, a := range attempts {
		select {
		case <-a.ctrl.Done():
		case <-ctx.Done():
			return fmt.Errorf("drain attempts: %w", ctx.Err())
		}
	}
	return nil
}

func (s *ExamSessionService) watch(key liveKey, a *liveAttempt) {
	select {
	case <-a.ctrl.Done():
	case <-a.evict:
	}
	s.drop(key, a)
	s.metrics.SessionsActive.Dec()
}

func (s *ExamSessionService) drop(key liveKey, a *liveAttempt) {
	s.mu.Lock()
	if s.live[key] == a {
		delete(s.live, key)
	}
	s.mu.Unlock()
}

// observe wraps the caller's notify with metrics, the violation log and
// monitor events.
func (s *ExamSessionService) observe(studentID int, examID uuid.UUID, notify func(session.Event)) func(session.Event) {
	return func(ev session.Event) {
		switch ev.Kind {
		case session.EventWarning:
			s.metrics.Violations.Inc()
			v := model.Violation{ExamID: examID, StudentID: studentID, Count: ev.Warning.Count, RecordedAt: s.now().UTC()}
			ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
			if err := s.feed.QueueViolation(ctx, v); err != nil {
				s.log.Warn().Err(err).Int("student_id", studentID).Msg("Failed to queue violation")
			}
			cancel()
			s.publish(examID, MonitorEvent{Type: MonitorViolation, StudentID: studentID, Violations: ev.Warning.Count})

		case session.EventSubmitted:
			s.metrics.Terminations.WithLabelValues(string(ev.Reason)).Inc()
			id := ev.Submission.ID
			s.publish(examID, MonitorEvent{
				Type:         MonitorSubmitted,
				StudentID:    studentID,
				Violations:   ev.Submission.Violations,
				Reason:       string(ev.Reason),
				SubmissionID: &id,
			})

		case session.EventSubmitFailed:
			s.metrics.SubmitFailures.Inc()
			s.publish(examID, MonitorEvent{
				Type:       MonitorSubmitFailed,
				StudentID:  studentID,
				Violations: ev.Snapshot.Violations,
				Reason:     string(ev.Reason),
			})
		}

		if notify != nil {
			notify(ev)
		}
	}
}

func (s *ExamSessionService) publish(examID uuid.UUID, ev MonitorEvent) {
	ev.At = s.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), feedTimeout)
	defer cancel()
	if err := s.feed.Publish(ctx, examID, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("Failed to publish monitor event")
	}
}

// examSource adapts the repositories to session.ExamSource.
type examSource struct {
	exams     ExamReader
	questions QuestionReader
}

func (e examSource) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return e.exams.GetByID(ctx, id)
}

func (e examSource) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return e.questions.ListByExam(ctx, examID)
}
