// Package sink persists the per-shop result rows. The pipeline hands over
// 7-column tuples with a header row prepended and never learns how they are
// stored.
package sink

import (
	"context"
	"log/slog"
)

// Sink appends rows for one shop. If a destination for the shop already
// exists the rows land after the last non-empty row, otherwise a fresh
// destination is created.
type Sink interface {
	Append(ctx context.Context, shop string, rows [][]string) error
	Close()
}

// Fallback wraps a primary sink and reroutes rows to a local CSV file when
// the primary fails. Sink errors never abort a shop.
type Fallback struct {
	primary  Sink
	fallback *CSVSink
	logger   *slog.Logger
}

func NewFallback(primary Sink, fallback *CSVSink) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default().With("component", "sink"),
	}
}

func (f *Fallback) Append(ctx context.Context, shop string, rows [][]string) error {
	if f.primary != nil {
		err := f.primary.Append(ctx, shop, rows)
		if err == nil {
			return nil
		}
		f.logger.Error("primary sink failed, writing rows to local file",
			"shop", shop, "error", err)
	}
	return f.fallback.Append(ctx, shop, rows)
}

func (f *Fallback) Close() {
	if f.primary != nil {
		f.primary.Close()
	}
	f.fallback.Close()
}
