package search

import (
	"log"

	"armory/api/internal/normalize"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres ILIKE scans.
type Service struct {
	meili *Meili
	pg    *PgLike
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgLike) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRecord pushes one normalized record into the index for its
// collection, fire-and-forget. Failures only cost search freshness.
func (s *Service) IndexRecord(collection string, record normalize.Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rtyp := resultTypeForCollection(collection)
	if rtyp == "" {
		return
	}
	go func() {
		var err error
		switch rtyp {
		case ResultProduct:
			err = s.meili.IndexProduct(ProductRecord{
				ID:       str(record, "id"),
				Name:     str(record, "name"),
				SKU:      str(record, "sku"),
				Category: str(record, "category"),
				Status:   str(record, "status"),
			})
		case ResultOrder:
			err = s.meili.IndexOrder(OrderRecord{
				ID:         str(record, "id"),
				CustomerID: str(record, "customerId"),
				Status:     str(record, "status"),
			})
		case ResultCustomer:
			err = s.meili.IndexCustomer(CustomerRecord{
				ID:            str(record, "id"),
				Name:          str(record, "name"),
				ContactPerson: str(record, "contactPerson"),
				Country:       str(record, "country"),
				Status:        str(record, "status"),
			})
		}
		if err != nil {
			log.Printf("search: index %s %s: %v", collection, str(record, "id"), err)
		}
	}()
}

func str(record normalize.Record, key string) string {
	value, _ := record[key].(string)
	return value
}
