package mq

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveDeliversBody(t *testing.T) {
	t.Parallel()
	r := newRegistry(10 * time.Millisecond)
	defer r.close()

	id, ch := r.register(time.Now().Add(time.Second))
	require.True(t, r.resolve(id, []byte(`{"ok":true}`)))

	out := <-ch
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"ok":true}`, string(out.body))
	assert.Equal(t, 0, r.inflight())
}

func TestRegistry_AtMostOneResolution(t *testing.T) {
	t.Parallel()
	r := newRegistry(10 * time.Millisecond)
	defer r.close()

	id, ch := r.register(time.Now().Add(time.Second))
	require.True(t, r.resolve(id, []byte(`1`)))

	// Duplicate delivery of the same correlation id is dropped.
	assert.False(t, r.resolve(id, []byte(`2`)))
	assert.False(t, r.fail(id, errors.New("late failure")))

	out := <-ch
	require.NoError(t, out.err)
	assert.Equal(t, "1", string(out.body))

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second outcome: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_UnknownCorrelationIDIgnored(t *testing.T) {
	t.Parallel()
	r := newRegistry(10 * time.Millisecond)
	defer r.close()

	id, ch := r.register(time.Now().Add(time.Second))

	assert.False(t, r.resolve("not-a-known-id", []byte(`{}`)))

	// The pending call is untouched.
	require.True(t, r.resolve(id, []byte(`{}`)))
	out := <-ch
	require.NoError(t, out.err)
}

func TestRegistry_SweepFailsExpiredEntries(t *testing.T) {
	t.Parallel()
	r := newRegistry(5 * time.Millisecond)
	defer r.close()

	deadline := time.Now().Add(50 * time.Millisecond)
	_, ch := r.register(deadline)

	start := time.Now()
	out := <-ch
	elapsed := time.Since(start)

	require.ErrorIs(t, out.err, ErrTimeout)
	// Not earlier than the deadline, and not indefinitely later.
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 0, r.inflight())
}

func TestRegistry_RemoveDiscardsLateReply(t *testing.T) {
	t.Parallel()
	r := newRegistry(10 * time.Millisecond)
	defer r.close()

	id, ch := r.register(time.Now().Add(time.Second))
	r.remove(id)

	assert.False(t, r.resolve(id, []byte(`{}`)))
	select {
	case out := <-ch:
		t.Fatalf("unexpected outcome after remove: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_CloseFailsPending(t *testing.T) {
	t.Parallel()
	r := newRegistry(10 * time.Millisecond)

	_, ch := r.register(time.Now().Add(time.Hour))
	r.close()

	out := <-ch
	require.ErrorIs(t, out.err, ErrClientClosed)
}
