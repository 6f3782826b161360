package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndGet(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	entry := &Entry{
		RequestID:  101,
		Outcome:    OutcomeCompleted,
		NumServers: 3,
		NumRows:    42,
		ElapsedMs:  87,
	}
	require.NoError(t, j.Record(entry))

	got, err := j.Get(101)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeCompleted, got.Outcome)
	assert.Equal(t, int64(42), got.NumRows)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListOrderedByRequestID(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	for _, id := range []int64{30, 10, 20} {
		require.NoError(t, j.Record(&Entry{
			RequestID:   id,
			Outcome:     OutcomeFailed,
			Error:       "dispatch failed",
			CompletedAt: time.Now(),
		}))
	}

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(10), entries[0].RequestID)
	assert.Equal(t, int64(20), entries[1].RequestID)
	assert.Equal(t, int64(30), entries[2].RequestID)
}
