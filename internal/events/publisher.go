package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-review-harvester/internal/database"
	"github.com/maltedev/amazon-review-harvester/internal/models"
)

type EventType string

const (
	// EventTypeProductReviewsHarvested is written once per walked product.
	EventTypeProductReviewsHarvested EventType = "PRODUCT_REVIEWS_HARVESTED"

	aggregateType = "review_harvest"
)

// ProductReviewsHarvestedPayload describes one product walk.
type ProductReviewsHarvestedPayload struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	Timestamp         time.Time `json:"timestamp"`
	RunID             string    `json:"run_id"`
	ProductPath       string    `json:"product_path"`
	ProductIdentifier string    `json:"product_identifier,omitempty"`
	SearchPageIndex   int       `json:"search_page_index"`
	Records           int       `json:"records"`
	Completed         bool      `json:"completed"`
	AbortedAtPage     int       `json:"aborted_at_page,omitempty"`
	Source            string    `json:"source"`
}

type transactor interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type reviewWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, h *models.ProductHarvest) (int64, error)
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores product harvests and their outbox events in one
// transaction.
type Publisher struct {
	db      transactor
	reviews reviewWriter
	outbox  outboxWriter
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:      db,
		reviews: database.NewReviewRepository(),
		outbox:  database.NewOutboxRepository(db),
		logger:  logger.With("component", "event_publisher"),
	}
}

// SaveProductHarvest writes the records of h and a
// PRODUCT_REVIEWS_HARVESTED event atomically.
func (p *Publisher) SaveProductHarvest(ctx context.Context, h *models.ProductHarvest) error {
	payload := NewProductReviewsHarvestedPayload(h)
	event, err := payload.OutboxEvent()
	if err != nil {
		return err
	}

	var copied int64
	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := p.reviews.InsertWithTx(ctx, tx, h)
		if err != nil {
			return err
		}
		copied = n

		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("product harvest stored",
		"event_id", payload.EventID,
		"product", h.Product,
		"records", copied,
		"outbox_id", event.ID,
	)

	return nil
}

func NewProductReviewsHarvestedPayload(h *models.ProductHarvest) *ProductReviewsHarvestedPayload {
	ts := h.HarvestedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	payload := &ProductReviewsHarvestedPayload{
		EventID:         uuid.New().String(),
		EventType:       string(EventTypeProductReviewsHarvested),
		Timestamp:       ts,
		RunID:           h.RunID,
		ProductPath:     h.Product,
		SearchPageIndex: h.SearchPageIndex,
		Records:         len(h.Records),
		Completed:       h.Completed,
		AbortedAtPage:   h.AbortedAtPage,
		Source:          "harvester",
	}
	for _, rec := range h.Records {
		if rec.ProductIdentifier != nil {
			payload.ProductIdentifier = *rec.ProductIdentifier
			break
		}
	}
	return payload
}

// OutboxEvent wraps the payload for the transactional outbox. The
// aggregate is the product, falling back to its path when no record
// carried an identifier.
func (p *ProductReviewsHarvestedPayload) OutboxEvent() (*database.OutboxEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	aggregateID := p.ProductIdentifier
	if aggregateID == "" {
		aggregateID = p.ProductPath
	}

	return &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     p.EventType,
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}, nil
}
