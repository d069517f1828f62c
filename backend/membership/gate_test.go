package membership

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGate blocks every lookup until release is closed.
type countingGate struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (g *countingGate) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if g.err != nil {
		return false, g.err
	}
	return groupID == "G1" && userID == "u1", nil
}

func newDeduplicated(gate Gate) *Deduplicated {
	logger := zerolog.Nop()
	return NewDeduplicated(gate, time.Second, &logger)
}

func TestDeduplicated_CollapsesConcurrentLookups(t *testing.T) {
	gate := &countingGate{release: make(chan struct{})}
	d := newDeduplicated(gate)

	const callers = 10
	var (
		wg      sync.WaitGroup
		members atomic.Int32
	)
	wg.Add(callers)
	for range callers {
		go func() {
			defer wg.Done()
			ok, err := d.IsMember(context.Background(), "G1", "u1")
			assert.NoError(t, err)
			if ok {
				members.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return gate.calls.Load() >= 1 }, time.Second, time.Millisecond)
	// give the remaining callers time to attach to the in-flight lookup
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, int32(callers), members.Load())
	assert.Less(t, gate.calls.Load(), int32(callers))
}

func TestDeduplicated_DistinctKeys(t *testing.T) {
	gate := &countingGate{release: make(chan struct{})}
	close(gate.release)
	d := newDeduplicated(gate)

	ok, err := d.IsMember(context.Background(), "G1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	// same concatenation, different split
	ok, err = d.IsMember(context.Background(), "G1u", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(2), gate.calls.Load())
}

func TestDeduplicated_WrapsErrors(t *testing.T) {
	storeErr := errors.New("disk on fire")
	gate := &countingGate{release: make(chan struct{}), err: storeErr}
	close(gate.release)
	d := newDeduplicated(gate)

	ok, err := d.IsMember(context.Background(), "G1", "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLookup)
	assert.ErrorIs(t, err, storeErr)
}

func TestDeduplicated_ContextCancel(t *testing.T) {
	gate := &countingGate{release: make(chan struct{})}
	defer close(gate.release)
	d := newDeduplicated(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := d.IsMember(ctx, "G1", "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeduplicated_SharedLookupOutlivesFirstCaller(t *testing.T) {
	gate := &countingGate{release: make(chan struct{})}
	d := newDeduplicated(gate)

	first := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := d.IsMember(ctx, "G1", "u1")
		first <- err
	}()
	require.Eventually(t, func() bool { return gate.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		ok  bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := d.IsMember(context.Background(), "G1", "u1")
		second <- result{ok: ok, err: err}
	}()

	assert.ErrorIs(t, <-first, context.DeadlineExceeded)
	time.Sleep(10 * time.Millisecond)
	close(gate.release)

	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.ok)
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestDeduplicated_LookupTimeout(t *testing.T) {
	gate := &countingGate{release: make(chan struct{})}
	defer close(gate.release)
	logger := zerolog.Nop()
	d := NewDeduplicated(gate, 20*time.Millisecond, &logger)

	ok, err := d.IsMember(context.Background(), "G1", "u1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLookup)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
