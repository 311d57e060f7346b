package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProduct  ResultType = "product"
	ResultOrder    ResultType = "order"
	ResultCustomer ResultType = "customer"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProductRecord is the data we index for a product.
type ProductRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// OrderRecord is the data we index for an order.
type OrderRecord struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Status     string `json:"status"`
}

// CustomerRecord is the data we index for a customer.
type CustomerRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContactPerson string `json:"contactPerson"`
	Country       string `json:"country"`
	Status        string `json:"status"`
}

func resultTypeForCollection(collection string) ResultType {
	switch collection {
	case "products":
		return ResultProduct
	case "orders":
		return ResultOrder
	case "customers":
		return ResultCustomer
	default:
		return ""
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
