package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLease struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeLease) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held[key] {
		return false, nil
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	f.held[key] = true
	return true, nil
}

func counter(name string, n *int, err error) Job {
	return Job{Name: name, Run: func(context.Context) error { *n++; return err }}
}

func TestTickRunsEveryJobWithoutLease(t *testing.T) {
	var a, b int
	s := NewSweeper(time.Minute, nil, zap.NewNop(), counter("a", &a, nil), counter("b", &b, errors.New("boom")))
	s.Tick(context.Background())
	s.Tick(context.Background())
	require.Equal(t, 2, a)
	require.Equal(t, 2, b)
}

func TestTickSkipsHeldLease(t *testing.T) {
	var a int
	lease := &fakeLease{}
	first := NewSweeper(time.Minute, lease, zap.NewNop(), counter("a", &a, nil))
	second := NewSweeper(time.Minute, lease, zap.NewNop(), counter("a", &a, nil))
	first.Tick(context.Background())
	second.Tick(context.Background())
	require.Equal(t, 1, a)
}

func TestTickRunsWhenLeaseErrors(t *testing.T) {
	var a int
	s := NewSweeper(time.Minute, &fakeLease{err: errors.New("redis down")}, zap.NewNop(), counter("a", &a, nil))
	s.Tick(context.Background())
	require.Equal(t, 1, a)
}

func TestStartStopsOnCancel(t *testing.T) {
	ran := make(chan struct{}, 10)
	s := NewSweeper(5*time.Millisecond, nil, zap.NewNop(), Job{Name: "x", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	wait := s.Start(ctx)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ticked")
	}
	cancel()
	wait()
}

func TestNewRedisLeaseNil(t *testing.T) {
	require.Nil(t, NewRedisLease(nil, "sweep", "me"))
}
