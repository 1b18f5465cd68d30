package features

import (
	"sort"
	"sync/atomic"
)

// DefaultLabel is offered when the catalog is empty.
const DefaultLabel = "Outros"

// Catalog is a label -> code table that can be replaced while being read.
type Catalog struct {
	table atomic.Pointer[map[string]string]
}

// NewCatalog creates a catalog from label -> code pairs.
func NewCatalog(pairs map[string]string) *Catalog {
	c := &Catalog{}
	c.Replace(pairs)
	return c
}

// CatalogFromCodes builds an identity catalog where each code is its own label.
func CatalogFromCodes(codes []string) *Catalog {
	pairs := make(map[string]string, len(codes))
	for _, code := range codes {
		if code != "" {
			pairs[code] = code
		}
	}
	return NewCatalog(pairs)
}

// Replace swaps in a new table. The input map is copied.
func (c *Catalog) Replace(pairs map[string]string) {
	table := make(map[string]string, len(pairs))
	for label, code := range pairs {
		if label == "" {
			continue
		}
		if code == "" {
			code = label
		}
		table[label] = code
	}
	c.table.Store(&table)
}

// CodeFor implements CategoryLookup.
func (c *Catalog) CodeFor(label string) (string, bool) {
	table := c.table.Load()
	if table == nil {
		return "", false
	}
	code, ok := (*table)[label]
	return code, ok
}

// Labels returns the known labels sorted, or DefaultLabel when empty.
func (c *Catalog) Labels() []string {
	table := c.table.Load()
	if table == nil || len(*table) == 0 {
		return []string{DefaultLabel}
	}
	labels := make([]string, 0, len(*table))
	for label := range *table {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of labels in the table.
func (c *Catalog) Len() int {
	table := c.table.Load()
	if table == nil {
		return 0
	}
	return len(*table)
}
