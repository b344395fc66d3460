// Package worker runs the periodic background sweeps: expiring overdue
// reservation holds and transfers and quarantining inconsistent units.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job is one named periodic task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Lease grants at most one holder per key for ttl.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLease implements Lease with SET NX.  The key simply expires; ticks
// never release early so a slow peer cannot overlap a fast one.
type RedisLease struct {
	rdb    *redis.Client
	prefix string
	owner  string
}

// NewRedisLease returns a lease backed by rdb, or nil when rdb is nil.
func NewRedisLease(rdb *redis.Client, prefix, owner string) Lease {
	if rdb == nil {
		return nil
	}
	return &RedisLease{rdb: rdb, prefix: prefix, owner: owner}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.prefix+":"+key, l.owner, ttl).Result()
}

// Sweeper runs every job once per interval.
type Sweeper struct {
	interval time.Duration
	lease    Lease
	jobs     []Job
	log      *zap.Logger
}

// NewSweeper builds a Sweeper.  A nil lease runs every job on every tick;
// the stores' compare-and-set updates keep concurrent sweeps safe.
func NewSweeper(interval time.Duration, lease Lease, log *zap.Logger, jobs ...Job) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{interval: interval, lease: lease, jobs: jobs, log: log}
}

// Start runs the sweep loop until ctx is cancelled.  The returned function
// blocks until the loop has exited.
func (s *Sweeper) Start(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Tick(ctx)
			}
		}
	}()
	return wg.Wait
}

// Tick runs each job once if its lease can be taken.
func (s *Sweeper) Tick(ctx context.Context) {
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if s.lease != nil {
			ok, err := s.lease.Acquire(ctx, j.Name, s.interval)
			if err != nil {
				s.log.Warn("sweep lease unavailable, running anyway", zap.String("job", j.Name), zap.Error(err))
			} else if !ok {
				s.log.Debug("sweep skipped, lease held elsewhere", zap.String("job", j.Name))
				continue
			}
		}
		start := time.Now()
		if err := j.Run(ctx); err != nil {
			s.log.Error("sweep failed", zap.String("job", j.Name), zap.Error(err))
			continue
		}
		s.log.Debug("sweep done", zap.String("job", j.Name), zap.Duration("took", time.Since(start)))
	}
}
