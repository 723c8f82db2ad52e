package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeStream records XADDs and fails the ones for listed run ids.
type fakeStream struct {
	mu     sync.Mutex
	adds   []*redis.XAddArgs
	failOn map[string]error
}

func (s *fakeStream) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)
	runID := args.Values.(map[string]interface{})["run_id"].(string)
	if err, ok := s.failOn[runID]; ok {
		cmd.SetErr(err)
		return cmd
	}
	s.adds = append(s.adds, args)
	cmd.SetVal(fmt.Sprintf("1717416000000-%d", len(s.adds)-1))
	return cmd
}

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) field(i int, name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds[i].Values.(map[string]interface{})[name]
}

type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*OutboxEvent)
	return events, args.Error(1)
}

func (m *mockOutbox) MarkPublished(ctx context.Context, id uuid.UUID, messageID string) error {
	return m.Called(ctx, id, messageID).Error(0)
}

func (m *mockOutbox) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *mockOutbox) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason error) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *mockOutbox) Stats(ctx context.Context) (OutboxStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(OutboxStats), args.Error(1)
}

func harvestEvent(t *testing.T, runID, identifier string, records int, completed bool, abortedAt int) *OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"event_type":         "PRODUCT_REVIEWS_HARVESTED",
		"run_id":             runID,
		"product_path":       "https://www.amazon.com/Laptop/dp/" + identifier + "/",
		"product_identifier": identifier,
		"search_page_index":  3,
		"records":            records,
		"completed":          completed,
		"aborted_at_page":    abortedAt,
		"source":             "harvester",
	})
	require.NoError(t, err)

	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "review_harvest",
		AggregateID:   identifier,
		EventType:     "PRODUCT_REVIEWS_HARVESTED",
		Payload:       payload,
		TargetStream:  DefaultTargetStream,
		CreatedAt:     time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRelay(outbox OutboxRepo, stream RedisClient, batchSize int) *Relay {
	return NewRelay(outbox, stream, slog.Default(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    batchSize,
		StreamMaxLen: 1000,
	})
}

func TestStreamValues(t *testing.T) {
	t.Run("completed product", func(t *testing.T) {
		e := harvestEvent(t, "run-1", "B000EXAMPLE", 40, true, 0)
		values, err := streamValues(e)
		require.NoError(t, err)

		assert.Equal(t, e.ID.String(), values["event_id"])
		assert.Equal(t, "PRODUCT_REVIEWS_HARVESTED", values["event_type"])
		assert.Equal(t, "run-1", values["run_id"])
		assert.Equal(t, "B000EXAMPLE", values["product_identifier"])
		assert.Equal(t, "https://www.amazon.com/Laptop/dp/B000EXAMPLE/", values["product_path"])
		assert.Equal(t, "3", values["search_page_index"])
		assert.Equal(t, "40", values["records"])
		assert.Equal(t, "true", values["completed"])
		assert.Equal(t, "0", values["aborted_at_page"])
		assert.Equal(t, "2024-06-03T12:00:00Z", values["occurred_at"])
		assert.NotContains(t, values, "source")
	})

	t.Run("aborted product", func(t *testing.T) {
		values, err := streamValues(harvestEvent(t, "run-1", "B0ABORTED", 8, false, 2))
		require.NoError(t, err)
		assert.Equal(t, "false", values["completed"])
		assert.Equal(t, "2", values["aborted_at_page"])
		assert.Equal(t, "8", values["records"])
	})

	t.Run("payload is not json", func(t *testing.T) {
		e := harvestEvent(t, "run-1", "B01", 1, true, 0)
		e.Payload = json.RawMessage(`not json`)
		_, err := streamValues(e)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("payload without run id", func(t *testing.T) {
		e := harvestEvent(t, "", "B01", 1, true, 0)
		_, err := streamValues(e)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestRelayFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in outbox order with trimming", func(t *testing.T) {
		first := harvestEvent(t, "run-1", "B01", 10, true, 0)
		second := harvestEvent(t, "run-1", "B02", 0, false, 1)

		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 10).Return([]*OutboxEvent{first, second}, nil).Once()
		outbox.On("MarkPublished", ctx, first.ID, "1717416000000-0").Return(nil).Once()
		outbox.On("MarkPublished", ctx, second.ID, "1717416000000-1").Return(nil).Once()

		stream := &fakeStream{}
		published, failed := newTestRelay(outbox, stream, 10).flush(ctx)

		assert.Equal(t, 2, published)
		assert.Zero(t, failed)
		outbox.AssertExpectations(t)

		require.Len(t, stream.adds, 2)
		assert.Equal(t, DefaultTargetStream, stream.adds[0].Stream)
		assert.Equal(t, int64(1000), stream.adds[0].MaxLen)
		assert.True(t, stream.adds[0].Approx)
		assert.Equal(t, "B01", stream.field(0, "product_identifier"))
		assert.Equal(t, "B02", stream.field(1, "product_identifier"))
	})

	t.Run("stream failure schedules a retry and the batch goes on", func(t *testing.T) {
		broken := harvestEvent(t, "run-broken", "B01", 4, true, 0)
		fine := harvestEvent(t, "run-fine", "B02", 4, true, 0)

		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 10).Return([]*OutboxEvent{broken, fine}, nil).Once()
		outbox.On("MarkFailed", ctx, broken.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to add to stream stream:review_harvest: OOM command not allowed"
		})).Return(nil).Once()
		outbox.On("MarkPublished", ctx, fine.ID, "1717416000000-0").Return(nil).Once()

		stream := &fakeStream{failOn: map[string]error{"run-broken": errors.New("OOM command not allowed")}}
		published, failed := newTestRelay(outbox, stream, 10).flush(ctx)

		assert.Equal(t, 1, published)
		assert.Equal(t, 1, failed)
		outbox.AssertExpectations(t)
	})

	t.Run("malformed payload is dead-lettered without a stream write", func(t *testing.T) {
		bad := harvestEvent(t, "run-1", "B01", 1, true, 0)
		bad.Payload = json.RawMessage(`{"records": "many"}`)

		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 10).Return([]*OutboxEvent{bad}, nil).Once()
		outbox.On("MarkDeadLetter", ctx, bad.ID, mock.MatchedBy(func(err error) bool {
			return errors.Is(err, ErrMalformedPayload)
		})).Return(nil).Once()

		stream := &fakeStream{}
		_, failed := newTestRelay(outbox, stream, 10).flush(ctx)

		assert.Equal(t, 1, failed)
		assert.Empty(t, stream.adds)
		outbox.AssertExpectations(t)
	})

	t.Run("drains full batches until a short one", func(t *testing.T) {
		a := harvestEvent(t, "run-1", "B01", 1, true, 0)
		b := harvestEvent(t, "run-1", "B02", 1, true, 0)
		c := harvestEvent(t, "run-1", "B03", 1, true, 0)

		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 2).Return([]*OutboxEvent{a, b}, nil).Once()
		outbox.On("Due", ctx, 2).Return([]*OutboxEvent{c}, nil).Once()
		outbox.On("MarkPublished", ctx, mock.Anything, mock.Anything).Return(nil).Times(3)

		stream := &fakeStream{}
		published, _ := newTestRelay(outbox, stream, 2).flush(ctx)

		assert.Equal(t, 3, published)
		assert.Equal(t, "B03", stream.field(2, "product_identifier"))
		outbox.AssertExpectations(t)
	})

	t.Run("stops after a full batch with failures", func(t *testing.T) {
		a := harvestEvent(t, "run-down", "B01", 1, true, 0)
		b := harvestEvent(t, "run-down", "B02", 1, true, 0)

		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 2).Return([]*OutboxEvent{a, b}, nil).Once()
		outbox.On("MarkFailed", ctx, mock.Anything, mock.Anything).Return(errors.New("pool closed")).Twice()

		stream := &fakeStream{failOn: map[string]error{"run-down": redis.ErrClosed}}
		published, failed := newTestRelay(outbox, stream, 2).flush(ctx)

		assert.Zero(t, published)
		assert.Equal(t, 2, failed)
		outbox.AssertExpectations(t)
	})

	t.Run("outbox unavailable", func(t *testing.T) {
		outbox := new(mockOutbox)
		outbox.On("Due", ctx, 10).Return(nil, errors.New("connection refused")).Once()

		published, failed := newTestRelay(outbox, &fakeStream{}, 10).flush(ctx)
		assert.Zero(t, published)
		assert.Zero(t, failed)
		outbox.AssertExpectations(t)
	})
}

func TestRelayRun(t *testing.T) {
	outbox := new(mockOutbox)
	outbox.On("Due", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestRelay(outbox, &fakeStream{}, 10).Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay kept running after cancellation")
	}
	outbox.AssertCalled(t, "Due", mock.Anything, 10)
}

func TestNewRelay(t *testing.T) {
	ctx := context.Background()
	outbox := new(mockOutbox)
	outbox.On("Stats", ctx).Return(OutboxStats{Pending: 3, Published: 40, DeadLetter: 1}, nil)

	relay := NewRelay(outbox, &fakeStream{}, slog.Default(), RelayConfig{})
	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
	assert.Zero(t, relay.maxLen)

	stats, err := relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxStats{Pending: 3, Published: 40, DeadLetter: 1}, stats)
}
