package mailbox

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/prismdb/prism/pkg/block"
	"github.com/prismdb/prism/pkg/log"
	"github.com/prismdb/prism/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

func testContext(requestID int64, deadline time.Time) ExecutionContext {
	return ExecutionContext{
		RequestID: requestID,
		Deadline:  deadline,
		StageID:   0,
		Worker:    types.WorkerMetadata{WorkerID: 0},
		TraceID:   "trace-1",
	}
}

func TestReceiveInOrder(t *testing.T) {
	svc := NewService()
	defer svc.Shutdown()

	deadline := time.Now().Add(time.Second)
	id := ID(1, 0, 0)
	require.NoError(t, svc.Send(id, block.NewDataBlock([][]any{{int64(1)}}), deadline))
	require.NoError(t, svc.Send(id, block.NewDataBlock([][]any{{int64(2)}}), deadline))
	require.NoError(t, svc.Send(id, block.NewSuccessEOS(&types.MultiStageQueryStats{}), deadline))

	op, err := svc.OpenReceive(testContext(1, deadline))
	require.NoError(t, err)
	defer op.Close()

	first, err := op.NextBlock()
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}}, first.Rows)

	second, err := op.NextBlock()
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(2)}}, second.Rows)

	last, err := op.NextBlock()
	require.NoError(t, err)
	assert.True(t, last.IsEOS())
	assert.False(t, last.IsError())
}

func TestNextBlockTimesOut(t *testing.T) {
	svc := NewService()
	defer svc.Shutdown()

	op, err := svc.OpenReceive(testContext(2, time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)
	defer op.Close()

	_, err = op.NextBlock()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNextBlockAfterDeadline(t *testing.T) {
	svc := NewService()
	defer svc.Shutdown()

	op, err := svc.OpenReceive(testContext(3, time.Now().Add(-time.Second)))
	require.NoError(t, err)
	defer op.Close()

	_, err = op.NextBlock()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSendBlocksUntilReceiverDrains(t *testing.T) {
	svc := NewService()
	defer svc.Shutdown()

	deadline := time.Now().Add(time.Second)
	id := ID(4, 0, 0)

	// Fill the channel to capacity, then one more send must time out
	for i := 0; i < defaultCapacity; i++ {
		require.NoError(t, svc.Send(id, block.NewDataBlock(nil), time.Now().Add(100*time.Millisecond)))
	}
	err := svc.Send(id, block.NewDataBlock(nil), time.Now().Add(50*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)

	op, err := svc.OpenReceive(testContext(4, deadline))
	require.NoError(t, err)
	defer op.Close()
	for i := 0; i < defaultCapacity; i++ {
		_, err := op.NextBlock()
		require.NoError(t, err)
	}
}

func TestShutdownFailsPendingReceive(t *testing.T) {
	svc := NewService()

	op, err := svc.OpenReceive(testContext(5, time.Now().Add(time.Second)))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		svc.Shutdown()
	}()

	_, err = op.NextBlock()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendAfterShutdown(t *testing.T) {
	svc := NewService()
	svc.Shutdown()

	err := svc.Send(ID(6, 0, 0), block.NewDataBlock(nil), time.Now().Add(time.Second))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = svc.OpenReceive(testContext(6, time.Now().Add(time.Second)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseReleasesMailbox(t *testing.T) {
	svc := NewService()
	defer svc.Shutdown()

	op, err := svc.OpenReceive(testContext(7, time.Now().Add(time.Second)))
	require.NoError(t, err)
	op.Close()

	// Close removed the mailbox; opening the same id again creates a fresh
	// one
	_, err = svc.OpenReceive(testContext(7, time.Now().Add(time.Second)))
	require.NoError(t, err)
}
