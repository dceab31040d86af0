package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/model"
)

// State is the lifecycle position of one attempt.
type State string

const (
	StateGated       State = "gated"
	StateLoading     State = "loading"
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
	StateAbandoned   State = "abandoned"
)

// Reason records which trigger ended the attempt.
type Reason string

const (
	ReasonManual     Reason = "manual"
	ReasonTimeout    Reason = "timeout"
	ReasonViolations Reason = "violation_limit"
)

// EventKind tags a controller notification.
type EventKind string

const (
	EventTick         EventKind = "tick"
	EventWarning      EventKind = "warning"
	EventSubmitted    EventKind = "submitted"
	EventSubmitFailed EventKind = "submit_failed"
)

// Event is delivered to Options.Notify. Notifications run outside the
// controller lock and may arrive from the clock or timer goroutines.
type Event struct {
	Kind       EventKind
	Snapshot   Snapshot
	Warning    *Warning
	Reason     Reason
	Submission *model.Submission
	Err        error
}

// ExamSource loads an exam and its questions in display order.
type ExamSource interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SubmissionSink stores a finished attempt and assigns its ID.
type SubmissionSink interface {
	Create(ctx context.Context, s *model.Submission) error
}

// Options tunes a Controller. Zero durations are honoured as zero.
type Options struct {
	ViolationLimit int
	// ViolationDelay separates the fatal warning from the submission.
	ViolationDelay time.Duration
	// SubmitGrace lets a final violation register before the submission
	// is materialized. Answers are frozen once termination begins.
	SubmitGrace    time.Duration
	PersistTimeout time.Duration

	Now       func() time.Time
	NewTicker TickerFunc
	AfterFunc func(d time.Duration, f func())
	Notify    func(Event)
	Log       *zerolog.Logger
}

// Controller runs one student's attempt at one exam.
type Controller struct {
	studentID int
	examID    uuid.UUID
	src       ExamSource
	sink      SubmissionSink
	opts      Options
	log       zerolog.Logger

	mu         sync.Mutex
	state      State
	starting   bool
	exam       *model.Exam
	questions  []model.Question
	collector  *Collector
	monitor    *Monitor
	clock      *Clock
	warning    *string
	reason     Reason
	startedAt  time.Time
	pending    *model.Submission
	persisting bool
	lastErr    error
	result     *model.Submission

	done     chan struct{}
	doneOnce sync.Once
}

func NewController(studentID int, examID uuid.UUID, src ExamSource, sink SubmissionSink, opts Options) *Controller {
	if opts.ViolationLimit < 1 {
		opts.ViolationLimit = DefaultViolationLimit
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Notify == nil {
		opts.Notify = func(Event) {}
	}
	log := zerolog.Nop()
	if opts.Log != nil {
		log = *opts.Log
	}

	return &Controller{
		studentID: studentID,
		examID:    examID,
		src:       src,
		sink:      sink,
		opts:      opts,
		log: log.With().
			Str("component", "exam_session").
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Logger(),
		state: StateGated,
		done:  make(chan struct{}),
	}
}

// Start checks the access window, loads the questions and starts the clock.
// A denied or failed start leaves nothing behind and may be retried.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateAbandoned {
		c.mu.Unlock()
		return ErrAbandoned
	}
	if c.state != StateGated || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	exam, err := c.src.GetExam(ctx, c.examID)
	if err != nil {
		c.resetStart()
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("exam %s: %w", c.examID, model.ErrNotFound)
		}
		return fmt.Errorf("load exam: %w", err)
	}

	now := c.opts.Now()
	if w := exam.WindowAt(now); w != model.WindowOpen {
		c.resetStart()
		return &AccessError{Window: w, Opens: exam.OpenTime, Closes: exam.CloseTime}
	}

	c.mu.Lock()
	if c.state != StateGated {
		c.starting = false
		c.mu.Unlock()
		return ErrAbandoned
	}
	c.state = StateLoading
	c.exam = exam
	c.mu.Unlock()

	questions, err := c.src.ListQuestions(ctx, exam.ID)
	if err != nil {
		c.mu.Lock()
		if c.state == StateLoading {
			c.state = StateGated
			c.exam = nil
		}
		c.starting = false
		c.mu.Unlock()
		return fmt.Errorf("load questions: %w", err)
	}

	c.mu.Lock()
	if c.state != StateLoading {
		c.starting = false
		c.mu.Unlock()
		return ErrAbandoned
	}
	c.questions = questions
	c.collector = NewCollector(questions)
	c.monitor = NewMonitor(c.opts.ViolationLimit)
	c.clock = NewClock(exam.DurationSeconds(), c.onTick, c.onExpire)
	c.state = StateActive
	c.starting = false
	c.startedAt = now
	clock := c.clock
	c.mu.Unlock()

	clock.Start(c.opts.NewTicker)

	c.log.Info().
		Int("questions", len(questions)).
		Int("seconds", exam.DurationSeconds()).
		Msg("Exam session started")
	return nil
}

func (c *Controller) resetStart() {
	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
}

// Exam returns the loaded exam, or nil before Start succeeds.
func (c *Controller) Exam() *model.Exam {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exam
}

// Questions returns the questions without their answer keys.
func (c *Controller) Questions() []model.QuestionForStudent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.QuestionForStudent, len(c.questions))
	for i := range c.questions {
		out[i] = c.questions[i].ForStudent()
	}
	return out
}

// SubmitAnswer records the answer for a question while the attempt is active.
func (c *Controller) SubmitAnswer(questionID uuid.UUID, a model.StudentAnswer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrNotActive
	}
	return c.collector.Record(questionID, a)
}

// SubmitMatch records one right-hand guess of a matching question.
func (c *Controller) SubmitMatch(questionID uuid.UUID, rightIndex int, guess string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrNotActive
	}
	return c.collector.RecordMatch(questionID, rightIndex, guess)
}

// Answer returns the current response for a question.
func (c *Controller) Answer(questionID uuid.UUID) model.StudentAnswer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collector == nil {
		return nil
	}
	return c.collector.Get(questionID)
}

// ReportVisibility feeds a page visibility change to the integrity monitor.
// Violations keep counting through the grace window before the submission
// is materialized.
func (c *Controller) ReportVisibility(hidden bool) (Warning, error) {
	c.mu.Lock()
	open := c.state == StateActive || (c.state == StateTerminating && c.pending == nil)
	if !open {
		c.mu.Unlock()
		return Warning{}, ErrNotActive
	}

	w, recorded := c.monitor.Observe(hidden)
	if !recorded {
		c.mu.Unlock()
		return w, nil
	}
	msg := w.Message
	c.warning = &msg
	if w.Trigger {
		c.beginLocked(ReasonViolations, c.opts.ViolationDelay)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn().Int("violations", w.Count).Bool("fatal", w.Fatal).Msg("Visibility violation")
	c.opts.Notify(Event{Kind: EventWarning, Snapshot: snap, Warning: &w})
	return w, nil
}

// ForceSubmit ends the attempt on the student's request. It returns false
// when a termination is already under way.
func (c *Controller) ForceSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(ReasonManual, c.opts.SubmitGrace)
}

// Abandon drops an attempt that has not begun terminating without
// submitting it, for example when the client goes away. A Start still in
// flight returns ErrAbandoned. Attempts already terminating are left to
// finish.
func (c *Controller) Abandon() bool {
	c.mu.Lock()
	switch c.state {
	case StateGated, StateLoading, StateActive:
	default:
		c.mu.Unlock()
		return false
	}
	if c.clock != nil {
		c.clock.Stop()
	}
	if c.monitor != nil {
		c.monitor.Disarm()
	}
	c.state = StateAbandoned
	c.mu.Unlock()

	c.log.Info().Msg("Exam session abandoned")
	c.closeDone()
	return true
}

// RetrySubmit tries again to store a submission whose first save failed.
func (c *Controller) RetrySubmit(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StateTerminated:
		c.mu.Unlock()
		return nil
	case c.state != StateTerminating || c.pending == nil:
		c.mu.Unlock()
		return ErrNothingToRetry
	case c.persisting:
		c.mu.Unlock()
		return ErrSubmitInProgress
	}
	c.persisting = true
	sub := c.pending
	c.mu.Unlock()

	return c.persist(ctx, sub)
}

// Snapshot returns the current client view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the attempt is stored or abandoned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the stored submission after Done is closed.
func (c *Controller) Result() (*model.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateTerminated:
		return c.result, nil
	case StateAbandoned:
		return nil, ErrAbandoned
	}
	if c.lastErr != nil {
		return nil, c.lastErr
	}
	return nil, ErrNotActive
}

func (c *Controller) onTick(int) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.opts.Notify(Event{Kind: EventTick, Snapshot: snap})
}

func (c *Controller) onExpire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginLocked(ReasonTimeout, c.opts.SubmitGrace)
}

// beginLocked moves Active to Terminating. The clock and the violation
// trigger are stopped before the timer that seals the submission is armed.
func (c *Controller) beginLocked(reason Reason, delay time.Duration) bool {
	if c.state != StateActive {
		return false
	}
	c.state = StateTerminating
	c.reason = reason
	c.clock.Stop()
	c.monitor.Disarm()
	c.opts.AfterFunc(delay, c.seal)

	c.log.Info().Str("reason", string(reason)).Msg("Exam session terminating")
	return true
}

func (c *Controller) seal() {
	c.mu.Lock()
	if c.state != StateTerminating || c.pending != nil {
		c.mu.Unlock()
		return
	}
	sub := &model.Submission{
		ExamID:     c.examID,
		StudentID:  c.studentID,
		Answers:    c.collector.Materialize(),
		Violations: c.monitor.Count(),
		Status:     model.SubmissionStatusSubmitted,
		Score:      0,
	}
	c.pending = sub
	c.persisting = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PersistTimeout)
	defer cancel()
	_ = c.persist(ctx, sub)
}

func (c *Controller) persist(ctx context.Context, sub *model.Submission) error {
	err := c.sink.Create(ctx, sub)

	c.mu.Lock()
	c.persisting = false
	reason := c.reason
	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrPersistence, err)
		perr := c.lastErr
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Failed to save submission")
		c.opts.Notify(Event{Kind: EventSubmitFailed, Snapshot: snap, Reason: reason, Err: perr})
		return perr
	}
	c.state = StateTerminated
	c.result = sub
	c.lastErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("reason", string(reason)).
		Str("submission_id", sub.ID.String()).
		Int("violations", sub.Violations).
		Msg("Exam submitted")
	c.closeDone()
	c.opts.Notify(Event{Kind: EventSubmitted, Snapshot: snap, Reason: reason, Submission: sub})
	return nil
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Warning: c.warning, Reason: c.reason, Answers: AnswerSet{}}
	if c.clock != nil {
		snap.SecondsRemaining = c.clock.Remaining()
	} else if c.exam != nil {
		snap.SecondsRemaining = c.exam.DurationSeconds()
	}
	if c.monitor != nil {
		snap.Violations = c.monitor.Count()
	}
	if c.collector != nil {
		snap.Answers = c.collector.Answers()
	}
	return snap
}

func (c *Controller) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
