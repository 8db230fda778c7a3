package ringchan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](rc *RingChannel[T]) []T {
	var got []T
	for {
		v, ok := rc.TryReceive()
		if !ok {
			return got
		}
		got = append(got, v)
	}
}

func TestForceSendDropsOldest(t *testing.T) {
	// GOAL: Verify ForceSend never blocks and keeps the newest elements
	//
	// TEST SCENARIO: Capacity 3, five forced sends → last three remain → overwrites counted

	rc := New[int](3)
	dropped := 0
	for i := 1; i <= 5; i++ {
		if rc.ForceSend(i) {
			dropped++
		}
	}

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, []int{3, 4, 5}, drain(rc))

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestSendIsNeverOverwritten(t *testing.T) {
	// GOAL: Verify control elements survive a flood of data and keep their place in the order
	//
	// TEST SCENARIO: Capacity 2, data, control, five more data → control still delivered between
	// the surviving data → only data counted as overwritten

	rc := New[string](2)
	rc.ForceSend("d1")
	require.NoError(t, rc.Send("ctl"))
	for _, v := range []string{"d2", "d3", "d4", "d5", "d6"} {
		rc.ForceSend(v)
	}

	assert.Equal(t, []string{"ctl", "d5", "d6"}, drain(rc))
	assert.Equal(t, int64(4), rc.GetMetrics().Overwritten)
}

func TestSendDoesNotCountAgainstCapacity(t *testing.T) {
	rc := New[int](1)
	require.NoError(t, rc.Send(1))
	require.NoError(t, rc.Send(2))

	assert.True(t, rc.TrySend(3))
	assert.False(t, rc.TrySend(4), "data MUST respect capacity")
	assert.True(t, rc.ForceSend(5))
	assert.Equal(t, []int{1, 2, 5}, drain(rc))
}

func TestOrderIsPreserved(t *testing.T) {
	rc := New[int](8)
	rc.ForceSend(1)
	require.NoError(t, rc.Send(2))
	rc.ForceSend(3)

	for want := 1; want <= 3; want++ {
		select {
		case v := <-rc.C():
			assert.Equal(t, want, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
}

func TestClosedChannel(t *testing.T) {
	rc := New[int](2)
	rc.ForceSend(7)
	require.NoError(t, rc.Send(8))
	rc.Close()
	rc.Close()

	assert.True(t, rc.ForceSend(9), "sends after close MUST be reported as dropped")
	assert.False(t, rc.TrySend(9))
	assert.ErrorIs(t, rc.Send(9), ErrClosed)
	assert.Equal(t, int64(2), rc.GetMetrics().Errors)

	v, ok := rc.Receive()
	assert.True(t, ok, "queued elements MUST stay readable after close")
	assert.Equal(t, 7, v)
	v, ok = rc.Receive()
	assert.True(t, ok)
	assert.Equal(t, 8, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestCloseEmptyClosesChannel(t *testing.T) {
	rc := New[int](1)
	rc.Close()

	select {
	case _, ok := <-rc.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("C MUST be closed once Close is called on an empty channel")
	}
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
