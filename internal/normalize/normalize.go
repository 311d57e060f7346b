// Package normalize reconciles the several raw column conventions found in
// the store into one canonical record shape per entity type.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// RawRow is an untyped row as produced by the query executor. It is read
// once during normalization and never retained.
type RawRow map[string]any

// Record is the canonical shape for one entity: a fixed set of semantic
// field names, each with exactly one source column.
type Record map[string]any

// ErrMalformedRecord marks a row whose identifier could not be resolved.
// A malformed row fails alone; it never aborts a collection fetch.
var ErrMalformedRecord = errors.New("malformed record")

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
)

type fieldSpec struct {
	name     string
	aliases  []string // precedence order: the first alias present wins
	kind     fieldKind
	fallback string // used instead of "" when every alias is absent
}

// Alias tables per entity. Ordering is load-bearing: it fixes which source
// column wins when a row carries more than one spelling, so it must not be
// reshuffled without migrating stored data expectations.
var entities = map[string][]fieldSpec{
	"products": {
		{name: "id", aliases: []string{"id"}},
		{name: "name", aliases: []string{"name", "product_name"}},
		{name: "sku", aliases: []string{"sku"}},
		{name: "category", aliases: []string{"category", "category_name"}},
		{name: "price", aliases: []string{"price", "unit_price"}, kind: kindNumber},
		{name: "stockCount", aliases: []string{"stock", "stock_count", "stockCount", "quantity"}, kind: kindNumber},
		{name: "status", aliases: []string{"status"}, fallback: "active"},
		{name: "imageRef", aliases: []string{"image", "image_url", "imageRef"}},
	},
	"orders": {
		{name: "id", aliases: []string{"id", "order_id"}},
		{name: "customerId", aliases: []string{"customer_id", "customer", "customer_name"}},
		{name: "date", aliases: []string{"date", "created_at"}},
		{name: "total", aliases: []string{"total", "amount_total"}, kind: kindNumber},
		{name: "itemCount", aliases: []string{"items_ordered", "item_count", "items_count"}, kind: kindNumber},
		{name: "status", aliases: []string{"status"}, fallback: "processing"},
	},
	"customers": {
		{name: "id", aliases: []string{"id"}},
		{name: "name", aliases: []string{"company", "full_name", "name"}},
		{name: "contactPerson", aliases: []string{"representative", "contact_person", "contactPerson", "primary_contact"}},
		{name: "phone", aliases: []string{"phone"}},
		{name: "country", aliases: []string{"country"}},
		{name: "registrationDate", aliases: []string{"registration_date", "registrationDate", "client_since", "signup_date"}},
		{name: "totalOrders", aliases: []string{"total_orders", "totalOrders"}, kind: kindNumber},
		{name: "totalSpent", aliases: []string{"total_spent", "totalSpent"}, kind: kindNumber},
		{name: "status", aliases: []string{"status"}, fallback: "Active"},
	},
}

// Known reports whether entity has an alias table.
func Known(entity string) bool {
	_, ok := entities[entity]
	return ok
}

// Entities lists the entity types with alias tables.
func Entities() []string {
	return []string{"products", "orders", "customers"}
}

// Normalize maps a raw row into the canonical record for entity. It is a
// pure function: raw is not mutated. Absent optional fields default to ""
// (strings) or float64(0) (numbers); a missing identifier is the only hard
// failure.
func Normalize(entity string, raw RawRow) (Record, error) {
	specs, ok := entities[entity]
	if !ok {
		return nil, fmt.Errorf("normalize: unknown entity %q", entity)
	}

	record := make(Record, len(specs))
	for _, spec := range specs {
		switch spec.kind {
		case kindNumber:
			record[spec.name] = numberField(raw, spec.aliases)
		default:
			value := stringField(raw, spec.aliases)
			if value == "" {
				value = spec.fallback
			}
			record[spec.name] = value
		}
	}

	if id, _ := record["id"].(string); id == "" {
		return nil, fmt.Errorf("%w: %s row has no identifier", ErrMalformedRecord, entity)
	}
	return record, nil
}

// All normalizes a batch, dropping malformed rows and reporting how many
// were dropped.
func All(entity string, rows []RawRow) ([]Record, int) {
	records := make([]Record, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		record, err := Normalize(entity, row)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, record)
	}
	return records, dropped
}

func stringField(raw RawRow, aliases []string) string {
	for _, alias := range aliases {
		value, ok := raw[alias]
		if !ok || value == nil {
			continue
		}
		if s := coerceString(value); s != "" {
			return s
		}
	}
	return ""
}

func numberField(raw RawRow, aliases []string) float64 {
	for _, alias := range aliases {
		value, ok := raw[alias]
		if !ok || value == nil {
			continue
		}
		if n, ok := coerceNumber(value); ok {
			return n
		}
	}
	return 0
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case []byte:
		n, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
