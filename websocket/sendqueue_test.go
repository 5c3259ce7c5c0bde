package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendQueue_ControlBeforeData(t *testing.T) {
	q := NewSendQueue(0)
	require.NoError(t, q.EnqueueData(NewTextFrame([]byte("data"), true)))
	ping, err := NewPingFrame(nil)
	require.NoError(t, err)
	require.NoError(t, q.EnqueueControl(ping))

	f, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, OpcodePing, f.Opcode, "control frame must be delivered before the already-queued data frame")

	f, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, OpcodeText, f.Opcode)
}

func TestSendQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewSendQueue(0)
	done := make(chan *Frame, 1)
	go func() {
		f, ok := q.Dequeue()
		if !ok {
			done <- nil
			return
		}
		done <- f
	}()

	select {
	case <-done:
		t.Fatal("Dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.EnqueueData(NewBinaryFrame([]byte("x"), true)))

	select {
	case f := <-done:
		require.NotNil(t, f)
		assert.Equal(t, OpcodeBinary, f.Opcode)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up after EnqueueData")
	}
}

func TestSendQueue_EnqueueDataBlocksWhenBounded(t *testing.T) {
	q := NewSendQueue(1)
	require.NoError(t, q.EnqueueData(NewBinaryFrame([]byte("first"), true)))

	blocked := make(chan struct{})
	unblocked := make(chan error, 1)
	go func() {
		close(blocked)
		unblocked <- q.EnqueueData(NewBinaryFrame([]byte("second"), true))
	}()

	<-blocked
	select {
	case <-unblocked:
		t.Fatal("EnqueueData returned while the queue was at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Dequeue()
	require.True(t, ok)

	select {
	case err := <-unblocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("EnqueueData did not unblock after Dequeue freed capacity")
	}
}

func TestSendQueue_MarkWriterStoppedUnblocksEnqueue(t *testing.T) {
	q := NewSendQueue(1)
	require.NoError(t, q.EnqueueData(NewBinaryFrame([]byte("first"), true)))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.EnqueueData(NewBinaryFrame([]byte("second"), true))
	}()

	time.Sleep(50 * time.Millisecond)
	q.MarkWriterStopped()

	select {
	case err := <-unblocked:
		assert.NoError(t, err, "EnqueueData should succeed once the writer is marked stopped")
	case <-time.After(time.Second):
		t.Fatal("EnqueueData did not unblock after MarkWriterStopped")
	}
}

func TestSendQueue_CloseUnblocksWaitersWithError(t *testing.T) {
	q := NewSendQueue(1)
	require.NoError(t, q.EnqueueData(NewBinaryFrame([]byte("first"), true)))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.EnqueueData(NewBinaryFrame([]byte("second"), true))
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case err := <-unblocked:
		assert.ErrorIs(t, err, ErrSendQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("EnqueueData did not unblock after Close")
	}

	err := q.EnqueueControl(NewTextFrame(nil, true))
	assert.ErrorIs(t, err, ErrSendQueueClosed)
}

func TestSendQueue_DequeueReturnsFalseWhenClosedAndEmpty(t *testing.T) {
	q := NewSendQueue(0)
	q.Close()
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestSendQueue_Drain(t *testing.T) {
	q := NewSendQueue(0)
	require.NoError(t, q.EnqueueData(NewTextFrame([]byte("d1"), true)))
	require.NoError(t, q.EnqueueData(NewTextFrame([]byte("d2"), true)))
	ping, _ := NewPingFrame(nil)
	require.NoError(t, q.EnqueueControl(ping))

	frames := q.Drain()
	require.Len(t, frames, 3)
	assert.Equal(t, OpcodePing, frames[0].Opcode, "control frames come first in a drain")

	q.Close()
	_, ok := q.Dequeue()
	assert.False(t, ok, "queue should be empty after Drain")
}
