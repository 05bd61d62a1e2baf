package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psvalidate/pkg/progress"
)

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("k%03d", i)
	}
	return out
}

func TestRunProcessesEveryKey(t *testing.T) {
	h := progress.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.SetMaxProgress(50)
	pool := NewPool(4, h, nil)

	var mu sync.Mutex
	seen := make(map[string]bool)
	err := pool.Run(context.Background(), keys(50), func(_ context.Context, key string) error {
		mu.Lock()
		seen[key] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 50)

	cur, _ := h.Progress()
	assert.Equal(t, 50, cur)
}

func TestRunRespectsLimit(t *testing.T) {
	pool := NewPool(3, nil, nil)

	var inFlight, peak atomic.Int32
	err := pool.Run(context.Background(), keys(30), func(_ context.Context, _ string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunPolicyKeepsGoing(t *testing.T) {
	var caught atomic.Int32
	pool := NewPool(2, nil, func(key string, err error) bool {
		caught.Add(1)
		return false
	})

	err := pool.Run(context.Background(), keys(10), func(_ context.Context, key string) error {
		if key == "k003" || key == "k007" {
			return errors.New("bad match")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), caught.Load())
}

func TestRunAbortsOnFatalError(t *testing.T) {
	boom := errors.New("connection lost")
	pool := NewPool(1, nil, nil)

	err := pool.Run(context.Background(), keys(10), func(_ context.Context, key string) error {
		if key == "k002" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunCancelledByHandler(t *testing.T) {
	h := progress.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	pool := NewPool(1, h, nil)

	var processed atomic.Int32
	err := pool.Run(context.Background(), keys(10), func(_ context.Context, key string) error {
		if processed.Add(1) == 3 {
			h.Cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, processed.Load(), int32(10))
}

func TestRunCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewPool(2, nil, nil).Run(ctx, keys(5), func(context.Context, string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, called)
}
