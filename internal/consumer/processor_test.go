package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func frame(schemaID uint32, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return value
}

func activityHeaders(tenantID string) []kafka.Header {
	return []kafka.Header{
		{Key: "event_type", Value: []byte("activity.recorded")},
		{Key: "tenant_id", Value: []byte(tenantID)},
		{Key: "schema_subject", Value: []byte("admin_activity_events-value")},
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := []byte(`{"activity_id":"abc"}`)
	msg := kafka.Message{
		Topic:     "admin_activity_events",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Value:     frame(42, payload),
		Headers:   activityHeaders("tenant-1"),
	}

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}
	processor := NewProcessor(reader, handler, WithLogger(testLogger(t)))

	before := testutil.ToFloat64(processedCounter.WithLabelValues("admin_activity_events", "activity.recorded"))
	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "activity.recorded", handler.last.EventType)
	require.Equal(t, "tenant-1", handler.last.TenantID)
	require.Equal(t, "admin_activity_events-value", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
	require.InDelta(t, before+1, testutil.ToFloat64(processedCounter.WithLabelValues("admin_activity_events", "activity.recorded")), 0.0001)
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	msg := kafka.Message{
		Topic:   "admin_activity_events",
		Offset:  20,
		Value:   frame(99, []byte(`{"activity_id":"def"}`)),
		Headers: activityHeaders("tenant-2"),
	}

	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("boom")}
	processor := NewProcessor(reader, handler, WithLogger(testLogger(t)))

	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  kafka.Message
	}{
		{"short value", kafka.Message{Topic: "t", Value: []byte{0, 1}, Headers: activityHeaders("tenant-1")}},
		{"bad magic byte", kafka.Message{Topic: "t", Value: []byte{1, 0, 0, 0, 1, '{', '}'}, Headers: activityHeaders("tenant-1")}},
		{"missing event type", kafka.Message{Topic: "t", Value: frame(1, []byte(`{}`)), Headers: activityHeaders("tenant-1")[1:]}},
		{"missing tenant", kafka.Message{Topic: "t", Value: frame(1, []byte(`{}`)), Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("activity.recorded")},
			{Key: "schema_subject", Value: []byte("admin_activity_events-value")},
		}}},
		{"missing subject", kafka.Message{Topic: "t", Value: frame(1, []byte(`{}`)), Headers: activityHeaders("tenant-1")[:2]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &stubReader{messages: []kafka.Message{tt.msg}, after: contextCanceled}
			handler := &stubHandler{}

			before := testutil.ToFloat64(decodeErrorCounter.WithLabelValues("t"))
			err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
			require.ErrorIs(t, err, context.Canceled)

			require.Zero(t, handler.calls)
			require.Equal(t, 1, reader.commitCalls)
			require.InDelta(t, before+1, testutil.ToFloat64(decodeErrorCounter.WithLabelValues("t")), 0.0001)
		})
	}
}

func TestProcessorBacksOffAfterFetchError(t *testing.T) {
	var logs bytes.Buffer
	reader := &stubReader{fetchErrs: []error{errors.New("broker gone")}, after: contextCanceled}
	processor := NewProcessor(reader, &stubHandler{},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithFetchBackoff(time.Millisecond),
	)

	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, logs.String(), "broker gone")
}

type stubReader struct {
	messages    []kafka.Message
	fetchErrs   []error
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
