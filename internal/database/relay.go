package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMalformedPayload marks an outbox payload that is not a product
// harvest. Such events go straight to dead letter.
var ErrMalformedPayload = errors.New("malformed harvest payload")

// RedisClient is the part of the redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the outbox store the relay drains.
type OutboxRepo interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, messageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason error) error
	Stats(ctx context.Context) (OutboxStats, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen approximately caps each stream. Zero disables trimming.
	StreamMaxLen int64
}

// Relay writes one stream entry per harvested product, read from the
// outbox in the order the harvests produced them.
type Relay struct {
	outbox    OutboxRepo
	redis     RedisClient
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		outbox:    outbox,
		redis:     redisClient,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// harvestMessage is the part of a PRODUCT_REVIEWS_HARVESTED payload that
// stream consumers read.
type harvestMessage struct {
	RunID             string `json:"run_id"`
	ProductPath       string `json:"product_path"`
	ProductIdentifier string `json:"product_identifier"`
	SearchPageIndex   int    `json:"search_page_index"`
	Records           int    `json:"records"`
	Completed         bool   `json:"completed"`
	AbortedAtPage     int    `json:"aborted_at_page"`
}

// streamValues flattens an event into the fields of its stream entry.
func streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	var msg harvestMessage
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if msg.RunID == "" || msg.ProductPath == "" {
		return nil, fmt.Errorf("%w: run_id and product_path are required", ErrMalformedPayload)
	}

	return map[string]interface{}{
		"event_id":           event.ID.String(),
		"event_type":         event.EventType,
		"run_id":             msg.RunID,
		"product_identifier": msg.ProductIdentifier,
		"product_path":       msg.ProductPath,
		"search_page_index":  strconv.Itoa(msg.SearchPageIndex),
		"records":            strconv.Itoa(msg.Records),
		"completed":          strconv.FormatBool(msg.Completed),
		"aborted_at_page":    strconv.Itoa(msg.AbortedAtPage),
		"occurred_at":        event.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// Run flushes the outbox every poll interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"stream_max_len", r.maxLen)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.flush(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats reports the outbox backlog.
func (r *Relay) Stats(ctx context.Context) (OutboxStats, error) {
	return r.outbox.Stats(ctx)
}

// flush publishes due events batch by batch. It stops after a short batch,
// or after a batch with failures so a stuck event cannot spin the loop.
func (r *Relay) flush(ctx context.Context) (published, failed int) {
	for ctx.Err() == nil {
		events, err := r.outbox.Due(ctx, r.batchSize)
		if err != nil {
			r.logger.Error("failed to load due events", "error", err)
			break
		}

		batchFailed := 0
		for _, event := range events {
			if err := r.publish(ctx, event); err != nil {
				batchFailed++
				r.logger.Warn("harvest event not published",
					"event_id", event.ID,
					"aggregate_id", event.AggregateID,
					"attempt", event.Attempts+1,
					"error", err)
				continue
			}
			published++
		}
		failed += batchFailed

		if len(events) < r.batchSize || batchFailed > 0 {
			break
		}
	}

	if published+failed > 0 {
		r.logger.Info("outbox flushed", "published", published, "failed", failed)
	}
	return published, failed
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	values, err := streamValues(event)
	if err != nil {
		if markErr := r.outbox.MarkDeadLetter(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to dead-letter event", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	messageID, err := r.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: event.TargetStream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		err = fmt.Errorf("failed to add to stream %s: %w", event.TargetStream, err)
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record publish failure", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkPublished(ctx, event.ID, messageID); err != nil {
		return fmt.Errorf("written as %s but not marked published: %w", messageID, err)
	}

	r.logger.Debug("harvest event published",
		"event_id", event.ID,
		"run_id", values["run_id"],
		"product", values["product_path"],
		"stream", event.TargetStream,
		"message_id", messageID)
	return nil
}
