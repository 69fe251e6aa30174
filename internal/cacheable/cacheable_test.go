package cacheable

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ResolvesOnceThenCaches(t *testing.T) {
	var calls int32
	c := New("test", time.Hour, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	})

	ok, v := c.Get(context.Background(), FailedNow)
	require.True(t, ok)
	require.Equal(t, 42, v)

	ok, v = c.Get(context.Background(), FailedNow)
	require.True(t, ok)
	require.Equal(t, 42, v)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGet_ConcurrentCallsResolveOnce(t *testing.T) {
	var calls int32
	c := New("test", time.Hour, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return 7, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, v := c.Get(context.Background(), FailedNow)
			assert.True(t, ok)
			assert.Equal(t, 7, v)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGet_FailedNowReturnsFalse(t *testing.T) {
	c := New("test", time.Hour, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	ok, v := c.Get(context.Background(), FailedNow)
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestGet_DefaultForTypeReturnsZeroWithSuccess(t *testing.T) {
	c := New("test", time.Hour, func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})

	ok, v := c.Get(context.Background(), DefaultForType)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestGet_SuccessPreviouslyKeepsStaleValue(t *testing.T) {
	succeed := true
	c := New("test", time.Millisecond, func(ctx context.Context) (int, error) {
		if succeed {
			return 99, nil
		}
		return 0, errors.New("boom")
	})

	ok, v := c.Get(context.Background(), FailedNow)
	require.True(t, ok)
	require.Equal(t, 99, v)

	time.Sleep(5 * time.Millisecond)
	succeed = false

	ok, v = c.Get(context.Background(), SuccessPreviously)
	assert.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestGet_SuccessPreviouslyWithNoPriorValueFails(t *testing.T) {
	c := New("test", time.Hour, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	ok, _ := c.Get(context.Background(), SuccessPreviously)
	assert.False(t, ok)
}

func TestReset_ClearsCachedValue(t *testing.T) {
	var calls int32
	c := New("test", time.Hour, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return int(calls), nil
	})

	_, _ = c.Get(context.Background(), FailedNow)
	c.Reset()
	_, v := c.Get(context.Background(), FailedNow)
	assert.Equal(t, 2, v)
}

func TestForeverNeverExpires(t *testing.T) {
	var calls int32
	c := New("test", Forever, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})

	_, _ = c.Get(context.Background(), FailedNow)
	time.Sleep(10 * time.Millisecond)
	_, _ = c.Get(context.Background(), FailedNow)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
