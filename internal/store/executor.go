package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"armory/api/internal/normalize"
)

// Error taxonomy of the data boundary. StoreUnavailable is safe for the
// caller to retry; the other two are not.
var (
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrQueryError          = errors.New("query error")
)

// Executor issues parameterized statements against the relational store and
// returns raw rows. It owns no business logic; callers map its errors to
// protocol-level responses.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Query runs a parameterized read and returns every row as an untyped map
// keyed by column name.
func (e *Executor) Query(ctx context.Context, stmt string, args ...any) ([]normalize.RawRow, error) {
	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]normalize.RawRow, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, classify(err)
		}
		row := make(normalize.RawRow, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// QueryOne runs a parameterized statement expected to yield exactly one row,
// typically INSERT ... RETURNING *, so writes hand back the affected row
// without a second round trip.
func (e *Executor) QueryOne(ctx context.Context, stmt string, args ...any) (normalize.RawRow, error) {
	rows, err := e.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: statement returned no row", ErrQueryError)
	}
	return rows[0], nil
}

// Exec runs a parameterized statement with no result rows.
func (e *Executor) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the boundary taxonomy. Connection-class
// failures (pg class 08, resource class 53, dead connections, dial errors)
// read as StoreUnavailable; integrity failures (class 23) as
// ConstraintViolation; everything else as QueryError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, pgErr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrQueryError, pgErr.Message)
		}
	}

	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrQueryError, err)
}
