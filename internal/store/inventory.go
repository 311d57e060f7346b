package store

import (
	"context"
	"fmt"

	"armory/api/internal/normalize"
	"armory/api/internal/util"
)

// Inventory exposes the collection operations the API serves. Collection
// names resolve to fixed statements here; nothing caller-supplied is ever
// spliced into SQL.
type Inventory struct {
	exec *Executor
}

func NewInventory(exec *Executor) *Inventory {
	return &Inventory{exec: exec}
}

// List ordering mirrors what the views expect: products grouped by category,
// orders newest first, customers alphabetical.
var listStatements = map[string]string{
	"products":  `SELECT * FROM products ORDER BY category ASC, name ASC`,
	"orders":    `SELECT * FROM orders ORDER BY date DESC`,
	"customers": `SELECT * FROM customers ORDER BY company ASC, id ASC`,
}

var idPrefixes = map[string]string{
	"products":  "prod",
	"orders":    "ord",
	"customers": "cus",
}

// Known reports whether collection is served.
func (s *Inventory) Known(collection string) bool {
	_, ok := listStatements[collection]
	return ok
}

// List fetches every raw row of a collection.
func (s *Inventory) List(ctx context.Context, collection string) ([]normalize.RawRow, error) {
	stmt, ok := listStatements[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return s.exec.Query(ctx, stmt)
}

// Create inserts one record and returns the stored row as the database saw
// it. The payload is normalized first so any accepted alias spelling lands
// in the right column.
func (s *Inventory) Create(ctx context.Context, collection string, payload normalize.RawRow) (normalize.RawRow, error) {
	prefix, ok := idPrefixes[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	withID := make(normalize.RawRow, len(payload)+1)
	for k, v := range payload {
		withID[k] = v
	}
	if id, _ := withID["id"].(string); id == "" {
		withID["id"] = util.NewID(prefix)
	}

	record, err := normalize.Normalize(collection, withID)
	if err != nil {
		return nil, err
	}

	switch collection {
	case "products":
		return s.exec.QueryOne(ctx, `
			INSERT INTO products (id, name, sku, category, price, stock, status, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		`, record["id"], record["name"], record["sku"], record["category"],
			record["price"], record["stockCount"], record["status"], record["imageRef"])
	case "orders":
		return s.exec.QueryOne(ctx, `
			INSERT INTO orders (id, customer_id, date, total, items_ordered, status)
			VALUES ($1, $2, COALESCE(NULLIF($3, '')::timestamptz, NOW()), $4, $5, $6)
			RETURNING *
		`, record["id"], record["customerId"], record["date"],
			record["total"], record["itemCount"], record["status"])
	case "customers":
		return s.exec.QueryOne(ctx, `
			INSERT INTO customers (id, company, representative, phone, country, registration_date, total_orders, total_spent, status)
			VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '')::timestamptz, NOW()), $7, $8, $9)
			RETURNING *
		`, record["id"], record["name"], record["contactPerson"], record["phone"],
			record["country"], record["registrationDate"], record["totalOrders"],
			record["totalSpent"], record["status"])
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

// Ping reports store reachability for the readiness probe.
func (s *Inventory) Ping(ctx context.Context) error {
	return s.exec.Ping(ctx)
}
