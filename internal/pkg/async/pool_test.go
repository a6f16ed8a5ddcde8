package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	pool := NewPool(2)

	var running, maxRunning int32
	task := func(v int) func() (interface{}, error) {
		return func() (interface{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return v, nil
		}
	}

	results := pool.Execute(context.Background(), []Task{
		{Name: "a", Execute: task(1)},
		{Name: "b", Execute: task(2)},
		{Name: "c", Execute: task(3)},
		{Name: "d", Execute: func() (interface{}, error) { return nil, errors.New("boom") }},
	})

	require.Len(t, results, 4)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))

	v, err := Value[int](results, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = Value[int](results, "d")
	assert.EqualError(t, err, "boom")

	_, err = Value[string](results, "a")
	assert.Error(t, err)

	_, err = Value[int](results, "missing")
	assert.ErrorIs(t, err, ErrMissingResult)
}

func TestPoolIsReusable(t *testing.T) {
	pool := NewPool(3)
	tasks := []Task{{Name: "x", Execute: func() (interface{}, error) { return "ok", nil }}}

	for i := 0; i < 3; i++ {
		results := pool.Execute(context.Background(), tasks)
		v, err := Value[string](results, "x")
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	results := NewPool(1).Execute(context.Background(), []Task{
		{Name: "bad", Execute: func() (interface{}, error) { panic("nil map") }},
		{Name: "good", Execute: func() (interface{}, error) { return 1, nil }},
	})

	_, err := Value[int](results, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	v, err := Value[int](results, "good")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewPool(2).Execute(ctx, []Task{
		{Name: "slow", Execute: func() (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return 1, nil
		}},
	})

	_, err := Value[int](results, "slow")
	assert.ErrorIs(t, err, ErrMissingResult)
}
