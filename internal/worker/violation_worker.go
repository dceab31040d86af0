package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationStore persists integrity violations.
type ViolationStore interface {
	InsertViolations(ctx context.Context, events []model.Violation) (int64, error)
	InsertViolation(ctx context.Context, e model.Violation) error
}

// Queue is the list violations are pushed onto by the live sessions.
type Queue interface {
	// Pop blocks up to timeout. It returns redis.Nil when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, items ...model.Violation) error
}

// RedisQueue is the Redis list behind config.WorkerKey.PersistViolationsQueue.
type RedisQueue struct {
	rdb redis.Cmdable
	key string
}

func NewRedisQueue(rdb redis.Cmdable) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: config.WorkerKey.PersistViolationsQueue}
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", redis.Nil
	}
	return result[1], nil
}

func (q *RedisQueue) Push(ctx context.Context, items ...model.Violation) error {
	pipe := q.rdb.Pipeline()
	for _, v := range items {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, q.key, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ViolationWorker drains the violation queue into Postgres in batches.
type ViolationWorker struct {
	queue Queue
	store ViolationStore
	log   zerolog.Logger

	errorBackoff   time.Duration
	requeueBackoff time.Duration
}

func NewViolationWorker(queue Queue, store ViolationStore, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		queue:          queue,
		store:          store,
		log:            log.With().Str("component", "violation_worker").Logger(),
		errorBackoff:   3 * time.Second,
		requeueBackoff: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it still holds.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.Violation, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		data, err := w.queue.Pop(ctx, PollTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Queue read failed, backing off")
			sleep(ctx, w.errorBackoff)
			continue
		}

		var v model.Violation
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			// malformed entries can never succeed
			w.log.Error().Err(err).Str("data", data).Msg("Discarding malformed violation")
			continue
		}
		buffer = append(buffer, v)
	}
}

// flush tries a COPY of the whole batch, then row by row, and requeues
// the rows that still failed.
func (w *ViolationWorker) flush(ctx context.Context, batch []model.Violation) {
	n, err := w.store.InsertViolations(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Violations persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, inserting row by row")

	var failed []model.Violation
	for _, v := range batch {
		if err := w.store.InsertViolation(ctx, v); err != nil {
			w.log.Error().Err(err).Int("student_id", v.StudentID).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	if len(failed) == 0 {
		return
	}

	if err := w.queue.Push(context.WithoutCancel(ctx), failed...); err != nil {
		w.log.Error().Err(err).Int("count", len(failed)).Msg("Failed to requeue violations, events lost")
		return
	}
	w.log.Info().Int("count", len(failed)).Msg("Requeued failed violations")
	sleep(ctx, w.requeueBackoff)
}

func (w *ViolationWorker) shutdown(buffer []model.Violation) {
	w.log.Info().Int("buffered", len(buffer)).Msg("ViolationWorker stopping")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
