package ringchan_test

import (
	"sync"
	"testing"

	"github.com/srg/blemidi/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldest(t *testing.T) {
	rc := ringchan.New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST remain")

	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Dropped)
	assert.Equal(t, int64(0), m.Received, "reads via C MUST NOT be counted")
}

func TestSendReportsDrop(t *testing.T) {
	rc := ringchan.New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestTrySend(t *testing.T) {
	rc := ringchan.New[int](2)

	assert.True(t, rc.TrySend(1))
	assert.True(t, rc.TrySend(2))
	assert.False(t, rc.TrySend(3), "full buffer MUST reject TrySend")
	assert.Equal(t, 2, rc.Len())
	assert.Equal(t, 2, rc.Cap())

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, int64(1), rc.GetMetrics().Received)
}

func TestTryReceiveEmpty(t *testing.T) {
	rc := ringchan.New[int](1)

	v, ok := rc.TryReceive()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestClose(t *testing.T) {
	rc := ringchan.New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(2) }, "Send after Close MUST NOT panic")
	assert.False(t, rc.TrySend(3))
	assert.Equal(t, int64(2), rc.GetMetrics().AfterClosed)

	v, ok := rc.Receive()
	assert.True(t, ok, "buffered values MUST survive Close")
	assert.Equal(t, 1, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestConcurrentProducers(t *testing.T) {
	rc := ringchan.New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}

	done := make(chan int)
	go func() {
		n := 0
		for range rc.C() {
			n++
		}
		done <- n
	}()

	wg.Wait()
	rc.Close()
	consumed := <-done

	m := rc.GetMetrics()
	assert.Equal(t, int64(4000), m.Written)
	assert.Equal(t, m.Written, m.Dropped+int64(consumed), "every written value MUST be either consumed or dropped")
}
