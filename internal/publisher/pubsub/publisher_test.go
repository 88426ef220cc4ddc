package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

type fakeTopic struct {
	msgs []*pubsub.Message
	err  error
}

func (f *fakeTopic) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{id: "msg-1", err: f.err}
}

func TestPublish(t *testing.T) {
	topic := &fakeTopic{}
	p := &Publisher{publisher: topic}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	id, err := p.Publish(ctx, "ignored", map[string]int{"n": 1})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Len(t, topic.msgs, 1)
	require.NotEmpty(t, topic.msgs[0].Attributes["traceparent"])

	var got map[string]int
	require.NoError(t, json.Unmarshal(topic.msgs[0].Data, &got))
	require.Equal(t, 1, got["n"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "", 1)
	require.Error(t, err)

	boom := errors.New("deadline")
	p := &Publisher{publisher: &fakeTopic{err: boom}}
	_, err = p.Publish(context.Background(), "", 1)
	require.ErrorIs(t, err, boom)
	require.NoError(t, p.Close())
}

func TestConnectValidates(t *testing.T) {
	t.Parallel()

	_, _, err := Connect(context.Background(), "", "topic")
	require.Error(t, err)
}
