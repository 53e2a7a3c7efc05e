package replication

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOutbox struct {
	mu      sync.Mutex
	changes map[uint64]Change
}

func newMemOutbox(changes ...Change) *memOutbox {
	o := &memOutbox{changes: make(map[uint64]Change)}
	for _, c := range changes {
		o.changes[c.Seq] = c
	}
	return o
}

func (o *memOutbox) Pending(ctx context.Context, limit int) ([]Change, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Change
	for _, c := range o.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *memOutbox) Ack(ctx context.Context, seq uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.changes, seq)
	return nil
}

func (o *memOutbox) Retry(ctx context.Context, c Change) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes[c.Seq] = c
	return nil
}

func (o *memOutbox) Depth(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.changes), nil
}

type fakeRemote struct {
	applied []Change
	fail    func(Change) error
}

func (r *fakeRemote) Apply(ctx context.Context, c Change) error {
	if r.fail != nil {
		if err := r.fail(c); err != nil {
			return err
		}
	}
	r.applied = append(r.applied, c)
	return nil
}

func (r *fakeRemote) Close(ctx context.Context) error { return nil }

func TestDrain_AppliesInOrder(t *testing.T) {
	ctx := context.Background()
	outbox := newMemOutbox(
		Change{Seq: 2, Collection: CollectionBans, Key: "b1", Op: OpUpsert},
		Change{Seq: 1, Collection: CollectionUsers, Key: "bob@example.com", Op: OpUpsert},
		Change{Seq: 3, Collection: CollectionMessages, Key: "m1", Op: OpDelete},
	)
	remote := &fakeRemote{}
	w := NewWorker(outbox, remote, WorkerOptions{})

	n, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, remote.applied, 3)
	assert.Equal(t, uint64(1), remote.applied[0].Seq)
	assert.Equal(t, uint64(2), remote.applied[1].Seq)
	assert.Equal(t, uint64(3), remote.applied[2].Seq)

	depth, _ := outbox.Depth(ctx)
	assert.Zero(t, depth)
}

func TestDrain_FailureStopsBatchAndRetries(t *testing.T) {
	ctx := context.Background()
	outbox := newMemOutbox(
		Change{Seq: 1, Collection: CollectionUsers, Key: "a", Op: OpUpsert},
		Change{Seq: 2, Collection: CollectionUsers, Key: "b", Op: OpUpsert},
	)
	remote := &fakeRemote{fail: func(c Change) error {
		if c.Seq == 1 {
			return errors.New("remote unavailable")
		}
		return nil
	}}
	w := NewWorker(outbox, remote, WorkerOptions{MaxAttempts: 3})

	n, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, remote.applied)

	pending, _ := outbox.Pending(ctx, 10)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "remote unavailable", pending[0].LastError)
}

func TestDrain_DropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	outbox := newMemOutbox(
		Change{Seq: 1, Collection: CollectionUsers, Key: "a", Op: OpUpsert, Attempts: 2},
		Change{Seq: 2, Collection: CollectionUsers, Key: "b", Op: OpUpsert},
	)
	remote := &fakeRemote{fail: func(c Change) error {
		if c.Seq == 1 {
			return errors.New("bad document")
		}
		return nil
	}}
	w := NewWorker(outbox, remote, WorkerOptions{MaxAttempts: 3})

	n, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, remote.applied, 1)
	assert.Equal(t, "b", remote.applied[0].Key)

	depth, _ := outbox.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	outbox := newMemOutbox(Change{Seq: 1, Collection: CollectionUsers, Key: "a", Op: OpUpsert})
	remote := &fakeRemote{}
	w := NewWorker(outbox, remote, WorkerOptions{})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		depth, _ := outbox.Depth(context.Background())
		return depth == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
