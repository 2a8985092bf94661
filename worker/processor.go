package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drewmudry/instashorts-pipeline/tasks"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskHandler is a function that processes a task payload.
type TaskHandler func(ctx context.Context, payload string) error

// ExhaustedHandler runs once a task fails for the last time.
type ExhaustedHandler func(ctx context.Context, payload string, err error)

// ErrPermanent marks failures that retrying cannot fix. Wrap it to skip the
// remaining attempts and dead-letter the task immediately.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the processor will not retry it.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// StageOptions tunes delivery for one queue.
type StageOptions struct {
	Concurrency int
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff     time.Duration
	OnExhausted ExhaustedHandler
}

func (o StageOptions) withDefaults() StageOptions {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	return o
}

// RetryDelay is the wait before the given retry, counting from 1.
func (o StageOptions) RetryDelay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := o.Backoff
	for i := 1; i < retry && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

// shouldRetry reports whether a task that failed on its attempt-th try
// (counting from 1) goes back on the queue.
func (o StageOptions) shouldRetry(err error, attempt int) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return attempt < o.MaxAttempts
}

type stage struct {
	queue   string
	handler TaskHandler
	opts    StageOptions
}

// Processor holds the redis connection and registered task handlers.
type Processor struct {
	RDB *redis.Client

	log    *zap.Logger
	stages map[string]*stage

	// BlockTimeout bounds each blocking pop so shutdown is noticed.
	BlockTimeout time.Duration
	// PollInterval is how often delayed retries are promoted.
	PollInterval time.Duration

	now func() time.Time
}

// NewProcessor creates a new worker processor.
func NewProcessor(rdb *redis.Client, log *zap.Logger) *Processor {
	return &Processor{
		RDB:          rdb,
		log:          log.Named("processor"),
		stages:       make(map[string]*stage),
		BlockTimeout: 2 * time.Second,
		PollInterval: 500 * time.Millisecond,
		now:          time.Now,
	}
}

func processingKey(queue string) string { return queue + ":processing" }
func delayedKey(queue string) string    { return queue + ":delayed" }

// DeadKey is the list holding tasks that exhausted their attempts.
func DeadKey(queue string) string { return queue + ":dead" }

// Register maps a queue name (task type) to a handler function.
func (p *Processor) Register(queueName string, handler TaskHandler, opts StageOptions) {
	opts = opts.withDefaults()
	p.stages[queueName] = &stage{queue: queueName, handler: handler, opts: opts}
	p.log.Info("Registered handler",
		zap.String("queue", queueName),
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("max_attempts", opts.MaxAttempts),
		zap.Duration("backoff", opts.Backoff),
	)
}

// Enqueue adds a new task to a queue.
func (p *Processor) Enqueue(ctx context.Context, queueName string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queueName, err)
	}
	env := tasks.Envelope{
		ID:       uuid.NewString(),
		Queue:    queueName,
		Payload:  raw,
		Enqueued: p.now().Unix(),
	}
	b, err := tasks.Marshal(env)
	if err != nil {
		return err
	}
	if err := p.RDB.LPush(ctx, queueName, b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return nil
}

// Run starts every registered stage's workers plus the retry promoter and
// blocks until ctx is cancelled and all in-flight tasks have returned.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	queues := make([]string, 0, len(p.stages))

	for _, st := range p.stages {
		queues = append(queues, st.queue)
		for i := 0; i < st.opts.Concurrency; i++ {
			wg.Add(1)
			go func(st *stage) {
				defer wg.Done()
				p.listen(ctx, st)
			}(st)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteLoop(ctx, queues)
	}()

	p.log.Info("Worker listening", zap.Strings("queues", queues))
	wg.Wait()
	p.log.Info("Worker stopped")
}

func (p *Processor) listen(ctx context.Context, st *stage) {
	for ctx.Err() == nil {
		raw, err := p.RDB.BRPopLPush(ctx, st.queue, processingKey(st.queue), p.BlockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("Error popping from queue", zap.String("queue", st.queue), zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		p.process(ctx, st, raw)
	}
}

// process runs one delivery. It always removes raw from the processing list,
// either acknowledging it, scheduling a retry or dead-lettering it.
func (p *Processor) process(ctx context.Context, st *stage, raw string) {
	log := p.log.With(zap.String("queue", st.queue))

	var env tasks.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Error("Dropping malformed task", zap.Error(err))
		p.deadLetter(ctx, st.queue, raw, raw)
		return
	}
	log = log.With(zap.String("task_id", env.ID), zap.Int("attempt", env.Attempt+1))

	start := p.now()
	err := st.handler(ctx, string(env.Payload))
	taskDuration.WithLabelValues(st.queue).Observe(p.now().Sub(start).Seconds())

	// Acknowledge, retry and dead-letter even while shutting down.
	bg := context.WithoutCancel(ctx)

	if err == nil {
		tasksProcessed.WithLabelValues(st.queue).Inc()
		if err := p.RDB.LRem(bg, processingKey(st.queue), 1, raw).Err(); err != nil {
			log.Error("Failed to acknowledge task", zap.Error(err))
		}
		return
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown; Recover redelivers it on the next start.
		log.Warn("Task interrupted", zap.Error(err))
		return
	}

	attempt := env.Attempt + 1
	env.LastErr = err.Error()

	if st.opts.shouldRetry(err, attempt) {
		delay := st.opts.RetryDelay(attempt)
		env.Attempt = attempt
		next, mErr := tasks.Marshal(env)
		if mErr != nil {
			log.Error("Failed to re-encode task", zap.Error(mErr))
			p.deadLetter(bg, st.queue, raw, raw)
			return
		}
		log.Warn("Task failed, scheduling retry", zap.Error(err), zap.Duration("delay", delay))
		tasksRetried.WithLabelValues(st.queue).Inc()

		_, txErr := p.RDB.TxPipelined(bg, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(bg, delayedKey(st.queue), &redis.Z{
				Score:  float64(p.now().Add(delay).UnixMilli()),
				Member: next,
			})
			pipe.LRem(bg, processingKey(st.queue), 1, raw)
			return nil
		})
		if txErr != nil {
			log.Error("Failed to schedule retry", zap.Error(txErr))
		}
		return
	}

	reason := "exhausted"
	if errors.Is(err, ErrPermanent) {
		reason = "permanent"
	}
	tasksFailed.WithLabelValues(st.queue, reason).Inc()
	log.Error("Task failed permanently", zap.Error(err), zap.String("reason", reason))

	if st.opts.OnExhausted != nil {
		st.opts.OnExhausted(bg, string(env.Payload), err)
	}

	dead, mErr := tasks.Marshal(env)
	if mErr != nil {
		dead = raw
	}
	p.deadLetter(bg, st.queue, raw, dead)
}

func (p *Processor) deadLetter(ctx context.Context, queue, raw, dead string) {
	_, err := p.RDB.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, DeadKey(queue), dead)
		pipe.LRem(ctx, processingKey(queue), 1, raw)
		return nil
	})
	if err != nil {
		p.log.Error("Failed to dead-letter task", zap.String("queue", queue), zap.Error(err))
	}
}

// promoteScript moves due members of a delayed set back onto their queue.
// Running it as a script keeps the move atomic across worker processes.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

func (p *Processor) promoteLoop(ctx context.Context, queues []string) {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				if _, err := p.PromoteDue(ctx, q); err != nil && ctx.Err() == nil {
					p.log.Error("Failed to promote delayed tasks", zap.String("queue", q), zap.Error(err))
				}
			}
		}
	}
}

// PromoteDue moves retries whose delay has elapsed back onto queue.
func (p *Processor) PromoteDue(ctx context.Context, queue string) (int, error) {
	now := p.now().UnixMilli()
	return promoteScript.Run(ctx, p.RDB, []string{delayedKey(queue), queue}, now, 100).Int()
}

// Recover pushes tasks left in processing lists by a crashed worker back onto
// their queues. Only call it while no other worker is consuming.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	moved := 0
	for q := range p.stages {
		for {
			err := p.RDB.RPopLPush(ctx, processingKey(q), q).Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return moved, fmt.Errorf("recover %s: %w", q, err)
			}
			moved++
		}
	}
	if moved > 0 {
		p.log.Warn("Recovered unacknowledged tasks", zap.Int("count", moved))
	}
	return moved, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
