package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/imagebulk/pkg/logger"
)

func TestSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "imagebulk", logger.NewNop())
	assert.Equal(t, "imagebulk.download.completed", p.Subject(TopicDownloadCompleted))

	bare := NewNATSPublisher(nil, "", logger.NewNop())
	assert.Equal(t, "payment.verified", bare.Subject(TopicPaymentVerified))
}

func TestRecorder(t *testing.T) {
	var rec Recorder
	var pub Publisher = &rec
	pub.Publish(context.Background(), TopicPaymentVerified, PaymentVerified{OrderID: "o1"})

	got := rec.Events()
	require.Len(t, got, 1)
	assert.Equal(t, TopicPaymentVerified, got[0].Topic)
}

func TestNATSPublisherIntegration(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set; skipping nats integration test")
	}

	pub, err := Connect(url, "imagebulk-test", logger.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("imagebulk-test.download.completed", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub.Publish(context.Background(), TopicDownloadCompleted, DownloadCompleted{AccountID: "a1", Keyword: "cats", ImageCount: 3})

	select {
	case msg := <-msgs:
		var evt DownloadCompleted
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		assert.Equal(t, "cats", evt.Keyword)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
