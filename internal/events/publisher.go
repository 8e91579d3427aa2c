// Package events publishes scraped-product notifications to a Redis stream
// so downstream consumers can react without polling the sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

// EventTypeProductScraped is published after a product row is handed to the
// sink.
const EventTypeProductScraped = "PRODUCT_SCRAPED"

// RedisClient is the subset of the redis client the publisher needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// ProductScrapedPayload is the JSON body of one event.
type ProductScrapedPayload struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	RunID          string    `json:"run_id"`
	Shop           string    `json:"shop"`
	ListingID      string    `json:"listing_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Price          float64   `json:"price"`
	PriceQualifier string    `json:"price_qualifier,omitempty"`
	Occurrences    int       `json:"occurrences"`
}

// Publisher writes events to a single stream. A nil Publisher is valid and
// publishes nothing.
type Publisher struct {
	client RedisClient
	stream string
	runID  string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream, runID string) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		runID:  runID,
		logger: slog.Default().With("component", "event_publisher"),
	}
}

// PublishProductScraped emits one event for a finished product record.
func (p *Publisher) PublishProductScraped(ctx context.Context, shop string, rec *models.ProductRecord) error {
	if p == nil {
		return nil
	}

	payload := ProductScrapedPayload{
		EventID:        uuid.New().String(),
		EventType:      EventTypeProductScraped,
		Timestamp:      time.Now(),
		RunID:          p.runID,
		Shop:           shop,
		ListingID:      rec.ID,
		URL:            rec.URL,
		Title:          rec.Title,
		Price:          rec.Price,
		PriceQualifier: rec.PriceQualifier,
		Occurrences:    rec.Count,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":   payload.EventID,
			"event_type": payload.EventType,
			"payload":    string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("event published", "event_id", payload.EventID, "shop", shop, "listing_id", rec.ID)
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		p.logger.Warn("failed to close redis client", "error", err)
	}
}
