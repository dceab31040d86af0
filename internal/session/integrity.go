package session

const (
	WarningMessage = "Warning: Do not switch tabs!"
	FatalMessage   = "You have switched tabs too many times. Exam will be submitted."
)

// DefaultViolationLimit is the number of tab switches that ends an attempt.
const DefaultViolationLimit = 2

// Warning is the monitor's reaction to one visibility change.
type Warning struct {
	Count   int
	Message string
	Fatal   bool
	// Trigger is true only on the observation that first crossed the limit.
	Trigger bool
}

// Monitor counts visibility violations for one attempt.
// Not safe for concurrent use.
type Monitor struct {
	limit   int
	count   int
	tripped bool
}

func NewMonitor(limit int) *Monitor {
	if limit < 1 {
		limit = DefaultViolationLimit
	}
	return &Monitor{limit: limit}
}

// Observe records a visibility change. Only hidden=true counts as a violation;
// the returned bool is false when nothing was recorded.
func (m *Monitor) Observe(hidden bool) (Warning, bool) {
	if !hidden {
		return Warning{}, false
	}
	m.count++

	if m.count < m.limit {
		return Warning{Count: m.count, Message: WarningMessage}, true
	}
	w := Warning{Count: m.count, Message: FatalMessage, Fatal: true, Trigger: !m.tripped}
	m.tripped = true
	return w, true
}

// Count is the number of violations observed so far.
func (m *Monitor) Count() int { return m.count }

// Limit is the violation count that ends the attempt.
func (m *Monitor) Limit() int { return m.limit }

// Disarm prevents any later observation from triggering termination.
func (m *Monitor) Disarm() { m.tripped = true }
