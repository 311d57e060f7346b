package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgLike implements Searcher with ILIKE scans against Postgres as a
// fallback. The inventory tables are small enough that a sequential scan is
// acceptable when Meilisearch is down.
type PgLike struct {
	db *sql.DB
}

func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search runs a UNION ALL query across products, orders, and customers.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(q.Text) + "%"
	args := []any{pattern}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProduct {
		subQueries = append(subQueries, `
			SELECT 'product'::text AS type, p.id, p.name AS title,
				coalesce(p.sku, '') AS snippet
			FROM products p
			WHERE p.name ILIKE $1 OR p.sku ILIKE $1 OR p.category ILIKE $1`)
	}

	if q.FilterType == "" || q.FilterType == ResultOrder {
		subQueries = append(subQueries, `
			SELECT 'order'::text AS type, o.id, o.id AS title,
				coalesce(o.status, '') AS snippet
			FROM orders o
			WHERE o.id ILIKE $1 OR o.customer_id ILIKE $1 OR o.status ILIKE $1`)
	}

	if q.FilterType == "" || q.FilterType == ResultCustomer {
		subQueries = append(subQueries, `
			SELECT 'customer'::text AS type, c.id, c.company AS title,
				coalesce(c.representative, '') AS snippet
			FROM customers c
			WHERE c.company ILIKE $1 OR c.representative ILIKE $1 OR c.country ILIKE $1`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet
		FROM (%s) sub
		ORDER BY title
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total := 0
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}

	return results, total, nil
}

func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}
