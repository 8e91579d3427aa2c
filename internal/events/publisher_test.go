package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

type fakeRedis struct {
	added  []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeRedis) XAdd(_ context.Context, args *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, args)
	cmd := redis.NewStringCmd(context.Background())
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestPublishProductScraped(t *testing.T) {
	client := &fakeRedis{}
	p := NewPublisher(client, "scraper.products", "run-1")

	rec := &models.ProductRecord{
		ID:             "2961967160",
		Count:          3,
		URL:            "https://www.trademe.co.nz/final/9",
		Title:          "Radar detector",
		Price:          1234.5,
		PriceQualifier: "Buy Now",
	}
	require.NoError(t, p.PublishProductScraped(context.Background(), "Acme", rec))

	require.Len(t, client.added, 1)
	args := client.added[0]
	assert.Equal(t, "scraper.products", args.Stream)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, EventTypeProductScraped, values["event_type"])

	var payload ProductScrapedPayload
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, "Acme", payload.Shop)
	assert.Equal(t, "2961967160", payload.ListingID)
	assert.Equal(t, 3, payload.Occurrences)
	assert.Equal(t, 1234.5, payload.Price)
	assert.Equal(t, values["event_id"], payload.EventID)
}

func TestPublishError(t *testing.T) {
	client := &fakeRedis{err: assert.AnError}
	p := NewPublisher(client, "scraper.products", "run-1")

	err := p.PublishProductScraped(context.Background(), "Acme", &models.ProductRecord{ID: "1"})
	assert.Error(t, err)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishProductScraped(context.Background(), "Acme", &models.ProductRecord{}))
	p.Close()
}

func TestClose(t *testing.T) {
	client := &fakeRedis{}
	p := NewPublisher(client, "scraper.products", "run-1")
	p.Close()
	assert.True(t, client.closed)
}
