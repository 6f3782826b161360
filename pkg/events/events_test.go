package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub := b.Subscribe(4)
	defer sub.Cancel()

	b.Publish(NewSubmitted(7, Submitted{TraceID: "trace-1", NumStages: 3, NumServers: 2}))
	b.Publish(NewCompleted(7, Completed{NumRows: 42, ElapsedMs: 10}))

	first := <-sub.Events()
	assert.Equal(t, KindSubmitted, first.Kind)
	assert.Equal(t, int64(7), first.RequestID)
	require.NotNil(t, first.Submitted)
	assert.Equal(t, "trace-1", first.Submitted.TraceID)
	assert.Equal(t, 2, first.Submitted.NumServers)
	assert.False(t, first.At.IsZero())

	second := <-sub.Events()
	assert.Equal(t, KindCompleted, second.Kind)
	require.NotNil(t, second.Completed)
	assert.Equal(t, int64(42), second.Completed.NumRows)
}

func TestPayloadConstructors(t *testing.T) {
	failed := NewFailed(9, errors.New("server-b unreachable"))
	assert.Equal(t, KindFailed, failed.Kind)
	require.NotNil(t, failed.Failed)
	assert.Equal(t, "server-b unreachable", failed.Failed.Error)

	cancelled := NewCancelled(9, 3)
	assert.Equal(t, KindCancelled, cancelled.Kind)
	require.NotNil(t, cancelled.Cancelled)
	assert.Equal(t, 3, cancelled.Cancelled.NumServers)
}

func TestFullBufferDropsEvent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub := b.Subscribe(1)
	defer sub.Cancel()

	b.Publish(NewCancelled(1, 1))
	// Buffer is full: this one is dropped, Publish does not block
	b.Publish(NewCancelled(2, 1))

	got := <-sub.Events()
	assert.Equal(t, int64(1), got.RequestID)
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected second event for request %d", e.RequestID)
	default:
	}
}

func TestCancelClosesFeed(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub := b.Subscribe(1)
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after cancel reaches nobody and does not panic
	b.Publish(NewCancelled(1, 1))
}

func TestCloseTearsDownSubscriptions(t *testing.T) {
	b := NewBroker()
	first := b.Subscribe(1)
	second := b.Subscribe(1)

	b.Close()
	_, open := <-first.Events()
	assert.False(t, open)
	_, open = <-second.Events()
	assert.False(t, open)

	// Subscribe after close hands back an already-closed feed
	late := b.Subscribe(1)
	_, open = <-late.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}
