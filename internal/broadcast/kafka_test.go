package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/collab/internal/collab"
	"chronicle/collab/internal/logging"
)

func testDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		QueueSize:   16,
		Workers:     1,
		MaxInFlight: 1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestKafkaDispatcherSendsEventKeyedByDocument(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var event collab.Event
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.DocumentID != "doc-1" || event.Type != collab.EventOperationApplied {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "collab.events", testDispatcherOptions(), logging.Discard())
	require.NoError(t, d.Publish(context.Background(), collab.Event{Type: collab.EventOperationApplied, DocumentID: "doc-1"}))
	require.NoError(t, d.Close())
}

func TestKafkaDispatcherRetriesFailedSends(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "collab.events", testDispatcherOptions(), logging.Discard())
	require.NoError(t, d.Publish(context.Background(), collab.Event{Type: collab.EventSessionJoined, DocumentID: "doc-1"}))
	require.NoError(t, d.Close())
}

func TestKafkaDispatcherRejectsAfterClose(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	d := NewKafkaDispatcher(producer, "collab.events", testDispatcherOptions(), logging.Discard())
	require.NoError(t, d.Close())

	err := d.Publish(context.Background(), collab.Event{DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
	assert.NoError(t, d.Close())
}

func TestKafkaDispatcherEnqueueHonoursContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	opts := testDispatcherOptions()
	opts.QueueSize = 1
	opts.Workers = 1
	blocked := make(chan struct{})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func([]byte) error {
		<-blocked
		return nil
	})
	producer.ExpectSendMessageAndSucceed()
	d := NewKafkaDispatcher(producer, "collab.events", opts, logging.Discard())

	require.NoError(t, d.Publish(context.Background(), collab.Event{DocumentID: "doc-1"}))
	require.Eventually(t, func() bool { return len(d.shard("doc-1")) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Publish(context.Background(), collab.Event{DocumentID: "doc-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Publish(ctx, collab.Event{DocumentID: "doc-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(blocked)
	require.NoError(t, d.Close())
}

func TestKafkaDispatcherKeepsDocumentOrderAcrossRetries(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	var sent []string
	record := func(value []byte) error {
		var event collab.Event
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		sent = append(sent, event.SessionID)
		return nil
	}
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(record)
	}

	opts := testDispatcherOptions()
	opts.Workers = 4
	opts.MaxInFlight = 4
	opts.BaseBackoff = 20 * time.Millisecond
	opts.MaxBackoff = 20 * time.Millisecond
	d := NewKafkaDispatcher(producer, "collab.events", opts, logging.Discard())

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, d.Publish(context.Background(), collab.Event{
			Type:       collab.EventOperationApplied,
			DocumentID: "doc-1",
			SessionID:  id,
		}))
	}
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"first", "second", "third"}, sent)
}

func TestKafkaDispatcherShardsByDocument(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	opts := testDispatcherOptions()
	opts.Workers = 8
	d := NewKafkaDispatcher(producer, "collab.events", opts, logging.Discard())

	assert.Len(t, d.queues, 8)
	assert.Equal(t, d.shard("doc-1"), d.shard("doc-1"))
	require.NoError(t, d.Close())
}
