package utils

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(4)

	var sum atomic.Int64
	done := make(chan struct{}, 10)
	pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
		sum.Add(int64(task.(int)))
		done <- struct{}{}
		return nil
	})

	for i := 1; i <= 10; i++ {
		pool.AddTask(i)
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task not run")
		}
	}
	assert.Equal(t, int64(55), sum.Load())

	tb.Kill(nil)
	require.NoError(t, tb.Wait())
	assert.ErrorIs(t, pool.TryAddTask(&tb, 1), ErrPoolStopped)
}

func TestWorkerPool_ErrorKillsTomb(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(2)
	boom := errors.New("boom")

	pool.Setup(&tb, func(*tomb.Tomb, any) error {
		return boom
	})
	pool.AddTask(struct{}{})

	assert.ErrorIs(t, tb.Wait(), boom)
}

func TestNewWorkerPool_ZeroSize(t *testing.T) {
	pool := NewWorkerPool(0)
	assert.Equal(t, 1, pool.n)
}

func TestWorkerPool_RequeueWhenFull(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(1)
	for i := 0; i < TASK_CHAN_SIZE; i++ {
		pool.AddTask(i)
	}

	// Keep the tomb alive while the overflow goroutine waits.
	release := make(chan struct{})
	tb.Go(func() error {
		<-release
		return nil
	})
	pool.Requeue(&tb, -1)
	assert.Len(t, pool.tasks, TASK_CHAN_SIZE)

	seen := make(chan int, TASK_CHAN_SIZE+1)
	pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
		seen <- task.(int)
		return nil
	})
	found := false
	for i := 0; i <= TASK_CHAN_SIZE && !found; i++ {
		select {
		case v := <-seen:
			found = v == -1
		case <-time.After(time.Second):
			t.Fatal("requeued task not run")
		}
	}
	assert.True(t, found)

	close(release)
	tb.Kill(nil)
	require.NoError(t, tb.Wait())
}
