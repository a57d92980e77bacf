package discovery

import "github.com/ubuntu/eofetch/internal/eodata"

// Results are products keyed by name, iterated in insertion order.
type Results struct {
	order  []string
	byName map[string]eodata.ProductRecord
}

// NewResults returns an empty result set.
func NewResults() *Results {
	return &Results{byName: make(map[string]eodata.ProductRecord)}
}

// Add inserts r unless a product with the same name is already present. It reports whether r was added.
func (r *Results) Add(rec eodata.ProductRecord) bool {
	if _, ok := r.byName[rec.Name]; ok {
		return false
	}
	r.byName[rec.Name] = rec
	r.order = append(r.order, rec.Name)
	return true
}

// Get returns the product named name.
func (r *Results) Get(name string) (eodata.ProductRecord, bool) {
	rec, ok := r.byName[name]
	return rec, ok
}

// Len returns the number of products.
func (r *Results) Len() int {
	return len(r.order)
}

// Names returns the product names in insertion order.
func (r *Results) Names() []string {
	return append([]string(nil), r.order...)
}

// Records returns the products in insertion order.
func (r *Results) Records() []eodata.ProductRecord {
	recs := make([]eodata.ProductRecord, 0, len(r.order))
	for _, n := range r.order {
		recs = append(recs, r.byName[n])
	}
	return recs
}
