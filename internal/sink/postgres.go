package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkorolev/trademe-shop-scraper/internal/models"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS shop_products (
	shop            TEXT        NOT NULL,
	listing_id      TEXT        NOT NULL,
	occurrences     INTEGER     NOT NULL,
	url             TEXT        NOT NULL,
	title           TEXT        NOT NULL,
	description     TEXT        NOT NULL DEFAULT '',
	price           NUMERIC     NOT NULL DEFAULT 0,
	price_qualifier TEXT        NOT NULL DEFAULT '',
	scraped_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertRowSQL = `
INSERT INTO shop_products (shop, listing_id, occurrences, url, title, description, price, price_qualifier)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresSink appends result rows into a shared products table. Insertion
// order preserves the row order handed over by the pipeline.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure products table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Append(ctx context.Context, shop string, rows [][]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		if isHeader(row) {
			continue
		}
		if len(row) != 7 {
			return fmt.Errorf("row has %d columns, want 7", len(row))
		}

		count, err := strconv.Atoi(row[1])
		if err != nil {
			return fmt.Errorf("parse count %q: %w", row[1], err)
		}
		price, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", row[5], err)
		}

		if _, err := tx.Exec(ctx, insertRowSQL,
			shop, row[0], count, row[2], row[3], row[4], price, row[6]); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}

func isHeader(row []string) bool {
	header := models.Header()
	if len(row) != len(header) {
		return false
	}
	for i := range header {
		if row[i] != header[i] {
			return false
		}
	}
	return true
}
