//go:build integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type ProcessorSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	rdb       *redis.Client
}

func (s *ProcessorSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.container, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(s.T(), err)

	host, err := s.container.Host(s.ctx)
	require.NoError(s.T(), err)
	port, err := s.container.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)

	s.rdb = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(s.T(), s.rdb.Ping(s.ctx).Err())
}

func (s *ProcessorSuite) TearDownSuite() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *ProcessorSuite) SetupTest() {
	require.NoError(s.T(), s.rdb.FlushAll(s.ctx).Err())
}

func (s *ProcessorSuite) newProcessor() *Processor {
	p := NewProcessor(s.rdb, zap.NewNop())
	p.BlockTimeout = 100 * time.Millisecond
	p.PollInterval = 20 * time.Millisecond
	return p
}

// runUntil runs the processor until cond holds or the deadline passes.
func (s *ProcessorSuite) runUntil(p *Processor, cond func() bool) {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(s.T(), cond, 10*time.Second, 20*time.Millisecond)
	cancel()
	<-done
}

func (s *ProcessorSuite) TestSuccessAcknowledges() {
	p := s.newProcessor()
	var calls int32
	p.Register("q_test", func(ctx context.Context, payload string) error {
		s.Equal(`{"video_id":"v1"}`, payload)
		atomic.AddInt32(&calls, 1)
		return nil
	}, StageOptions{Concurrency: 2, MaxAttempts: 3})

	require.NoError(s.T(), p.Enqueue(s.ctx, "q_test", map[string]string{"video_id": "v1"}))
	s.runUntil(p, func() bool { return atomic.LoadInt32(&calls) == 1 })

	s.Zero(s.rdb.LLen(s.ctx, "q_test").Val())
	s.Zero(s.rdb.LLen(s.ctx, processingKey("q_test")).Val())
	s.Zero(s.rdb.LLen(s.ctx, DeadKey("q_test")).Val())
}

func (s *ProcessorSuite) TestRetriesWithBackoffThenSucceeds() {
	p := s.newProcessor()
	var calls int32
	p.Register("q_test", func(ctx context.Context, payload string) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, StageOptions{MaxAttempts: 3, Backoff: 30 * time.Millisecond})

	require.NoError(s.T(), p.Enqueue(s.ctx, "q_test", map[string]string{"video_id": "v1"}))
	s.runUntil(p, func() bool {
		return atomic.LoadInt32(&calls) == 3 && s.rdb.LLen(s.ctx, processingKey("q_test")).Val() == 0
	})

	s.Zero(s.rdb.ZCard(s.ctx, delayedKey("q_test")).Val())
	s.Zero(s.rdb.LLen(s.ctx, DeadKey("q_test")).Val())
}

func (s *ProcessorSuite) TestPermanentErrorDeadLettersOnce() {
	p := s.newProcessor()
	var calls, exhausted int32
	p.Register("q_test", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("bad input"))
	}, StageOptions{
		MaxAttempts: 3,
		OnExhausted: func(ctx context.Context, payload string, err error) {
			atomic.AddInt32(&exhausted, 1)
		},
	})

	require.NoError(s.T(), p.Enqueue(s.ctx, "q_test", map[string]string{"video_id": "v1"}))
	s.runUntil(p, func() bool { return s.rdb.LLen(s.ctx, DeadKey("q_test")).Val() == 1 })

	s.Equal(int32(1), atomic.LoadInt32(&calls))
	s.Equal(int32(1), atomic.LoadInt32(&exhausted))
	s.Zero(s.rdb.LLen(s.ctx, processingKey("q_test")).Val())
}

func (s *ProcessorSuite) TestRecoverRequeuesProcessingList() {
	p := s.newProcessor()
	p.Register("q_test", func(ctx context.Context, payload string) error { return nil }, StageOptions{})

	require.NoError(s.T(), s.rdb.LPush(s.ctx, processingKey("q_test"), `{"id":"a","payload":{}}`, `{"id":"b","payload":{}}`).Err())
	moved, err := p.Recover(s.ctx)
	require.NoError(s.T(), err)
	s.Equal(2, moved)
	s.Equal(int64(2), s.rdb.LLen(s.ctx, "q_test").Val())
}

func (s *ProcessorSuite) TestPromoteDueOnlyMovesDueTasks() {
	p := s.newProcessor()
	now := time.Now()
	p.now = func() time.Time { return now }

	require.NoError(s.T(), s.rdb.ZAdd(s.ctx, delayedKey("q_test"),
		&redis.Z{Score: float64(now.Add(-time.Second).UnixMilli()), Member: "due"},
		&redis.Z{Score: float64(now.Add(time.Hour).UnixMilli()), Member: "later"},
	).Err())

	n, err := p.PromoteDue(s.ctx, "q_test")
	require.NoError(s.T(), err)
	s.Equal(1, n)
	s.Equal([]string{"due"}, s.rdb.LRange(s.ctx, "q_test", 0, -1).Val())
	s.Equal(int64(1), s.rdb.ZCard(s.ctx, delayedKey("q_test")).Val())
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}
