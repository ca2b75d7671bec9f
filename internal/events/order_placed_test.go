package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-promo/internal/events"
	"github.com/noah-isme/toko-promo/internal/resilience"
)

type captureClient struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func sampleEvent() events.OrderPlaced {
	return events.OrderPlaced{
		OrderID:  "5b0c1c3e-5a3d-4c61-9d0b-0f5bb5f0b1aa",
		CartKey:  "user:1",
		UserID:   "1",
		Currency: "EGP",
		Total:    "225.00",
		Items: []events.OrderItem{
			{ProductRef: "X", Quantity: 2},
			{ProductRef: "Y", Quantity: 1, Gift: true},
		},
		PlacedAt: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
	}
}

func TestPublishOrderPlacedRoundTrip(t *testing.T) {
	client := &captureClient{}
	pub := events.Publisher{Client: client, Queue: "orders", MaxRetry: 3}
	require.NoError(t, pub.PublishOrderPlaced(context.Background(), sampleEvent()))
	require.Len(t, client.tasks, 1)
	require.Equal(t, events.TypeOrderPlaced, client.tasks[0].Type())

	decoded, err := events.DecodeOrderPlaced(client.tasks[0])
	require.NoError(t, err)
	require.Equal(t, sampleEvent(), decoded)
}

func TestPublishIgnoresDuplicates(t *testing.T) {
	pub := events.Publisher{Client: &captureClient{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, pub.PublishOrderPlaced(context.Background(), sampleEvent()))

	pub = events.Publisher{Client: &captureClient{err: errors.New("redis down")}}
	require.Error(t, pub.PublishOrderPlaced(context.Background(), sampleEvent()))
}

func TestPublishFailsFastWhenBrokerKeepsFailing(t *testing.T) {
	client := &captureClient{err: errors.New("redis down")}
	pub := events.Publisher{Client: client, Breaker: resilience.NewBreaker("order-events", 2, 0.5, time.Hour)}
	ctx := context.Background()

	require.Error(t, pub.PublishOrderPlaced(ctx, sampleEvent()))
	require.Error(t, pub.PublishOrderPlaced(ctx, sampleEvent()))
	require.Equal(t, resilience.Open, pub.Breaker.State())

	client.err = nil
	require.ErrorIs(t, pub.PublishOrderPlaced(ctx, sampleEvent()), resilience.ErrOpenCircuit)
	require.Empty(t, client.tasks)
}

func TestPublishRejectsIncompleteEvent(t *testing.T) {
	ev := sampleEvent()
	ev.Items = nil
	require.Error(t, events.Publisher{Client: &captureClient{}}.PublishOrderPlaced(context.Background(), ev))
}

func TestHandlerRunsHooks(t *testing.T) {
	var seen []string
	h := events.Handler{OnOrderPlaced: []events.OrderPlacedFunc{
		func(_ context.Context, ev events.OrderPlaced) error {
			seen = append(seen, ev.OrderID)
			return nil
		},
	}}
	task, err := events.NewOrderPlacedTask(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{sampleEvent().OrderID}, seen)

	boom := errors.New("cache down")
	failing := events.Handler{OnOrderPlaced: []events.OrderPlacedFunc{
		func(context.Context, events.OrderPlaced) error { return boom },
	}}
	require.ErrorIs(t, failing.ProcessTask(context.Background(), task), boom)
}

func TestHandlerSkipsRetryForMalformedPayload(t *testing.T) {
	err := events.Handler{}.ProcessTask(context.Background(), asynq.NewTask(events.TypeOrderPlaced, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
