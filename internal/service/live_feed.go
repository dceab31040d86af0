package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/model"
)

// Monitor event types published for proctors.
const (
	MonitorJoined       = "joined"
	MonitorViolation    = "violation"
	MonitorSubmitted    = "submitted"
	MonitorSubmitFailed = "submit_failed"
	MonitorAbandoned    = "abandoned"
)

// MonitorEvent is one change in a live attempt, fanned out to monitor streams.
type MonitorEvent struct {
	Type         string     `json:"type"`
	StudentID    int        `json:"student_id"`
	Violations   int        `json:"violations"`
	Reason       string     `json:"reason,omitempty"`
	SubmissionID *uuid.UUID `json:"submission_id,omitempty"`
	At           time.Time  `json:"at"`
}

// LiveFeed carries attempt side effects out of the process: monitor events
// and the violation log queue.
type LiveFeed interface {
	Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) error
	QueueViolation(ctx context.Context, v model.Violation) error
}

// RedisFeed publishes monitor events on a per-exam channel and pushes
// violations onto the worker queue.
type RedisFeed struct {
	rdb redis.Cmdable
}

// NewRedisFeed creates a RedisFeed.
func NewRedisFeed(rdb redis.Cmdable) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func (f *RedisFeed) Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), data).Err()
}

func (f *RedisFeed) QueueViolation(ctx context.Context, v model.Violation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}
