package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/chat-gateway/internal/messaging"
)

func TestStampRoundTrip(t *testing.T) {
	now := time.Unix(0, 1767225600123456789)
	got, ok := sentAt(stamp(now) + "payload")
	assert.True(t, ok)
	assert.True(t, now.Equal(got))
}

func TestSentAtRejectsForeignContent(t *testing.T) {
	for _, content := range []string{"hello", "t=abc|x", "t=123"} {
		_, ok := sentAt(content)
		assert.False(t, ok, content)
	}
}

func TestWatchDirectEventsCountsLoadSenders(t *testing.T) {
	var count atomic.Int64
	watcher, err := watchDirectEvents(nats.DefaultURL, &count)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(watcher.Close)

	pub, err := messaging.NewNATSClient(messaging.DefaultNATSConfig())
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	require.NoError(t, pub.PublishMessage(messaging.MessageEvent{ID: "1", SenderID: userID(0), RecipientID: userID(1)}))
	require.NoError(t, pub.PublishMessage(messaging.MessageEvent{ID: "2", SenderID: "alice", RecipientID: userID(1)}))
	require.NoError(t, pub.PublishMessage(messaging.MessageEvent{ID: "3", SenderID: userID(2), GroupID: "g1"}))
	require.NoError(t, pub.Flush())

	assert.Eventually(t, func() bool { return count.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load())
}
