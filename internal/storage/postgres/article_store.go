// Package postgres provides Postgres-backed persistence for article records.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailyfin/crawler/internal/news"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArticleStore writes and reads article rows in Postgres.
type ArticleStore struct {
	pool  pgxPool
	table string
	clock news.Clock
}

var _ news.ArticleStore = (*ArticleStore)(nil)

// New creates a Postgres-backed ArticleStore using the provided config.
func New(ctx context.Context, cfg Config, clock news.Clock) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "news_list"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if clock == nil {
		clock = news.SystemClock{}
	}
	return &ArticleStore{pool: pool, table: table, clock: clock}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string, clock news.Clock) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "news_list"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if clock == nil {
		clock = news.SystemClock{}
	}
	return &ArticleStore{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// dateOf truncates a timestamp to its calendar date.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Persist writes the batch in one transaction. Day-scoped ids continue from
// the current maximum for today's date; rows whose title already exists are
// silently skipped. Any unexpected failure rolls back the whole batch.
func (s *ArticleStore) Persist(ctx context.Context, items []news.FetchedArticle) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("article store is not configured")
	}
	if len(items) == 0 {
		return nil
	}

	today := dateOf(s.clock.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	// Serializes same-day writers around the read-then-assign of daily ids.
	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))",
		today.Format("2006-01-02"),
	); err != nil {
		return fmt.Errorf("acquire day lock: %w", err)
	}

	var maxID int
	maxQuery := fmt.Sprintf("SELECT COALESCE(MAX(daily_id), 0) FROM %s WHERE input_date = $1", s.table)
	if err := tx.QueryRow(ctx, maxQuery, today).Scan(&maxID); err != nil {
		return fmt.Errorf("query max daily id: %w", err)
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	input_date,
	daily_id,
	title,
	link,
	content,
	source,
	published_at,
	category,
	finance_relevant,
	country,
	remarks
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (title) DO NOTHING`, s.table)

	for i, item := range items {
		dailyID := maxID + i + 1
		if _, err := tx.Exec(ctx, insertQuery,
			today,
			dailyID,
			item.Headline,
			item.Link,
			item.Content,
			item.Source,
			item.PublishedAt,
			string(item.Category),
			item.FinanceRelevant,
			string(item.Country),
			item.Remarks,
		); err != nil {
			return fmt.Errorf("insert article %q: %w", item.Headline, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// MaxDailyID returns the highest daily id stored for the given date, 0 when
// the date has no rows.
func (s *ArticleStore) MaxDailyID(ctx context.Context, date time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("article store is not configured")
	}
	var maxID int
	query := fmt.Sprintf("SELECT COALESCE(MAX(daily_id), 0) FROM %s WHERE input_date = $1", s.table)
	if err := s.pool.QueryRow(ctx, query, dateOf(date)).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("query max daily id: %w", err)
	}
	return maxID, nil
}

// ListByDate returns stored articles ordered by publication time then
// category. A nil date returns every row.
func (s *ArticleStore) ListByDate(ctx context.Context, date *time.Time) ([]news.ArticleRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("article store is not configured")
	}

	builder := sq.Select(
		"input_date", "daily_id", "title", "link", "content",
		"source", "published_at", "category", "finance_relevant",
		"country", "remarks",
	).
		From(s.table).
		OrderBy("published_at", "category").
		PlaceholderFormat(sq.Dollar)
	if date != nil {
		builder = builder.Where(sq.Eq{"input_date": dateOf(*date)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var records []news.ArticleRecord
	for rows.Next() {
		var (
			rec      news.ArticleRecord
			category string
			country  string
		)
		if err := rows.Scan(
			&rec.InputDate,
			&rec.DailyID,
			&rec.Title,
			&rec.Link,
			&rec.Content,
			&rec.Source,
			&rec.PublishedAt,
			&category,
			&rec.FinanceRelevant,
			&country,
			&rec.Remarks,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		rec.Category = news.Category(category)
		rec.Country = news.Country(country)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return records, nil
}
