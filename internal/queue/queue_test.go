/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeEntry(i int) *Entry {
	return NewEntry(&Job{Method: "POST", Path: "/v1/prove", Body: []byte(fmt.Sprintf("job-%d", i))})
}

func TestQueueCapacityIsNeverExceeded(t *testing.T) {
	const capacity = 5

	q := New(capacity)
	for i := 0; i < capacity; i++ {
		require.NoError(t, q.TryEnqueue(makeEntry(i)))
	}
	require.Equal(t, capacity, q.Len())

	err := q.TryEnqueue(makeEntry(capacity))
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, capacity, q.Len(), "failed enqueue must not affect existing entries")
	require.Equal(t, capacity, q.Cap())
}

func TestQueueDequeueOrderEqualsEnqueueOrder(t *testing.T) {
	const n = 10

	q := New(n)
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e := makeEntry(i)
		want = append(want, e.ID)
		require.NoError(t, q.TryEnqueue(e))
	}

	got := make([]string, 0, n)
	for i := 0; i < n; i++ {
		e, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		got = append(got, e.ID)
	}
	require.Equal(t, want, got)
	require.Equal(t, 0, q.Len())
}

func TestQueueRequeueFrontPreservesOrdering(t *testing.T) {
	q := New(3)
	first, second := makeEntry(1), makeEntry(2)
	require.NoError(t, q.TryEnqueue(first))
	require.NoError(t, q.TryEnqueue(second))

	claimed, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)

	q.RequeueFront(claimed)

	e, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.ID, e.ID, "re-queued entry must come out before still-pending ones")
	e, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, second.ID, e.ID)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(1)

	done := make(chan *Entry, 1)
	go func() {
		e, err := q.Dequeue(context.Background())
		if err == nil {
			done <- e
		}
	}()

	select {
	case <-done:
		require.Fail(t, "dequeue returned from an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	want := makeEntry(1)
	require.NoError(t, q.TryEnqueue(want))

	select {
	case got := <-done:
		require.Equal(t, want.ID, got.ID)
	case <-time.After(time.Second):
		require.Fail(t, "dequeue did not wake up after enqueue")
	}
}

func TestQueueDequeueUnblocksOnContextCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "dequeue did not observe context cancellation")
	}
}

func TestQueueConcurrentProducersAndConsumers(t *testing.T) {
	const (
		producers        = 4
		entriesPerWorker = 50
		total            = producers * entriesPerWorker
	)

	q := New(total)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var prodWG sync.WaitGroup
	for p := 0; p < producers; p++ {
		prodWG.Add(1)
		go func() {
			defer prodWG.Done()
			for i := 0; i < entriesPerWorker; i++ {
				require.NoError(t, q.TryEnqueue(makeEntry(i)))
			}
		}()
	}

	seen := make(chan string, total)
	var consWG sync.WaitGroup
	for c := 0; c < 3; c++ {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			for {
				e, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				seen <- e.ID
			}
		}()
	}

	prodWG.Wait()
	ids := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		select {
		case id := <-seen:
			_, dup := ids[id]
			require.False(t, dup, "entry %s claimed twice", id)
			ids[id] = struct{}{}
		case <-ctx.Done():
			require.Fail(t, "timed out draining the queue")
		}
	}
	cancel()
	consWG.Wait()
	require.Len(t, ids, total)
}

func TestEntryCompleteIsOneShot(t *testing.T) {
	e := makeEntry(1)
	e.Complete(Result{StatusCode: 200})
	e.Complete(Result{Err: errors.New("late failure must be ignored")})

	res, err := e.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 200, res.StatusCode)
}

func TestEntryWaitRespectsContext(t *testing.T) {
	e := makeEntry(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
