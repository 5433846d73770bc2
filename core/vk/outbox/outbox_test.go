package outbox

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/artbot/core/vk"
)

func TestEnqueueRunsJob(t *testing.T) {
	o := New(Options{Workers: 1, QueueSize: 4})
	defer o.Close()

	done := make(chan struct{})
	err := o.Enqueue(context.Background(), "reply", "messages.send", func() error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not executed")
	}
}

func TestRetryOnTransientError(t *testing.T) {
	o := New(Options{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryBackoff: 10 * time.Millisecond})

	var calls atomic.Int32
	done := make(chan struct{})
	err := o.Enqueue(context.Background(), "reply", "messages.send", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not retry to success")
	}
	o.Close()
	require.EqualValues(t, 3, calls.Load())
	require.EqualValues(t, 0, o.ErrorCount())
}

func TestPermanentAPIErrorNotRetried(t *testing.T) {
	o := New(Options{Workers: 1, QueueSize: 4, MaxRetries: 3, RetryBackoff: 10 * time.Millisecond})

	var calls atomic.Int32
	err := o.Enqueue(context.Background(), "reply", "messages.send", func() error {
		calls.Add(1)
		return &vk.APIError{Method: "messages.send", Code: 901, Message: "can't send messages"}
	})
	require.NoError(t, err)

	o.Close()
	require.EqualValues(t, 1, calls.Load())
	require.EqualValues(t, 1, o.ErrorCount())
}

func TestEnqueueAfterClose(t *testing.T) {
	o := New(Options{Workers: 1, QueueSize: 1})
	o.Close()

	err := o.Enqueue(context.Background(), "reply", "messages.send", func() error { return nil })
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueFull(t *testing.T) {
	o := New(Options{Workers: 1, QueueSize: 1})
	defer o.Close()

	block := make(chan struct{})
	release := func() error { <-block; return nil }

	// One job occupies the worker, one fills the queue.
	require.NoError(t, o.Enqueue(context.Background(), "reply", "messages.send", release))
	// Give the worker a moment to pick up the first job.
	deadline := time.Now().Add(time.Second)
	for {
		if err := o.Enqueue(context.Background(), "reply", "messages.send", release); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never accepted second job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := o.Enqueue(context.Background(), "reply", "messages.send", release)
	require.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestEnqueueDuringClose(t *testing.T) {
	o := New(Options{Workers: 2, QueueSize: 2})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for {
				err := o.Enqueue(context.Background(), "reply", "messages.send", func() error { return nil })
				switch {
				case err == nil, errors.Is(err, ErrQueueFull):
				case errors.Is(err, ErrQueueClosed):
					return
				default:
					t.Errorf("unexpected enqueue error: %v", err)
					return
				}
			}
		}()
	}

	close(start)
	time.Sleep(10 * time.Millisecond)
	o.Close()
	wg.Wait()

	err := o.Enqueue(context.Background(), "reply", "messages.send", func() error { return nil })
	require.ErrorIs(t, err, ErrQueueClosed)
}
