// Package main populates the reviews database with synthetic, deterministic
// review data for local development and load testing.
//
// Run: go run ./cmd/seed -products 1000 -reviews 20
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/joho/godotenv/autoload"

	"github.com/Knights-Who-Say-Node/reviews/internal/config"
	"github.com/Knights-Who-Say-Node/reviews/migrations"
	"github.com/Knights-Who-Say-Node/reviews/pkg/database"
	"github.com/Knights-Who-Say-Node/reviews/pkg/logger"
)

func main() {
	var (
		firstProduct = flag.Int64("first-product", 1, "first product id to seed")
		products     = flag.Int("products", 1000, "number of products to seed")
		perProduct   = flag.Int("reviews", 20, "maximum reviews per product")
		batchSize    = flag.Int("batch", 100, "products per transaction")
		seed         = flag.Int64("seed", 42, "random seed")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("reviews-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		log.Error("connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Error("run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	gen := newGenerator(rand.New(rand.NewSource(*seed)), *perProduct, time.Now().UTC())
	start := time.Now()
	total := 0

	for offset := 0; offset < *products; offset += *batchSize {
		n := min(*batchSize, *products-offset)
		batch := make([]productSeed, n)
		for i := range batch {
			batch[i] = gen.product(*firstProduct + int64(offset+i))
		}

		inserted, err := insertBatch(ctx, pool, batch)
		if err != nil {
			log.Error("seed batch failed",
				slog.Int("offset", offset),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		total += inserted
		log.Info("seeded batch",
			slog.Int("products", offset+n),
			slog.Int("reviews", total),
		)
	}

	log.Info("seed complete",
		slog.Int("products", *products),
		slog.Int("reviews", total),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// insertBatch writes one batch of products in a single transaction using
// COPY for the review tables. Review ids are reserved from the sequence up
// front so photos and characteristic values can reference them.
func insertBatch(ctx context.Context, pool *pgxpool.Pool, batch []productSeed) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var reviewCount int
	for _, p := range batch {
		reviewCount += len(p.Reviews)
	}

	ids, err := reserveReviewIDs(ctx, tx, reviewCount)
	if err != nil {
		return 0, err
	}

	var reviewRows, photoRows, valueRows [][]any
	next := 0
	for _, p := range batch {
		charIDs := make(map[string]int64, len(p.Characteristics))
		for _, name := range p.Characteristics {
			var id int64
			err := tx.QueryRow(ctx,
				`INSERT INTO characteristics (product_id, name) VALUES ($1, $2)
				 ON CONFLICT (product_id, name) DO UPDATE SET name = EXCLUDED.name
				 RETURNING id`,
				p.ProductID, name,
			).Scan(&id)
			if err != nil {
				return 0, fmt.Errorf("upsert characteristic %q for product %d: %w", name, p.ProductID, err)
			}
			charIDs[name] = id
		}

		for _, r := range p.Reviews {
			id := ids[next]
			next++
			reviewRows = append(reviewRows, []any{
				id, p.ProductID, r.Rating, r.Date, r.Summary, r.Body, r.Recommend,
				r.Reported, r.Name, r.Email, r.Response, r.Helpfulness,
			})
			for _, url := range r.Photos {
				photoRows = append(photoRows, []any{id, url})
			}
			for name, value := range r.Values {
				valueRows = append(valueRows, []any{charIDs[name], id, value})
			}
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"reviews"},
		[]string{"id", "product_id", "rating", "date", "summary", "body", "recommend",
			"reported", "reviewer_name", "reviewer_email", "response", "helpfulness"},
		pgx.CopyFromRows(reviewRows),
	); err != nil {
		return 0, fmt.Errorf("copy reviews: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"review_photos"},
		[]string{"review_id", "url"}, pgx.CopyFromRows(photoRows),
	); err != nil {
		return 0, fmt.Errorf("copy review photos: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"characteristic_reviews"},
		[]string{"characteristic_id", "review_id", "value"}, pgx.CopyFromRows(valueRows),
	); err != nil {
		return 0, fmt.Errorf("copy characteristic values: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return reviewCount, nil
}

func reserveReviewIDs(ctx context.Context, tx pgx.Tx, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx,
		`SELECT nextval(pg_get_serial_sequence('reviews', 'id')) FROM generate_series(1, $1)`, n)
	if err != nil {
		return nil, fmt.Errorf("reserve review ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("reserve review ids: %w", err)
	}
	return ids, nil
}
