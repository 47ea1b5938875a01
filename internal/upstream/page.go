package upstream

import (
	"fmt"
	"time"
)

// Record is one upstream row with its ordering key extracted.
type Record struct {
	ID         int64
	UpdateTime time.Time
	Fields     map[string]any
}

// Before reports whether r sorts strictly before other by (update_time, id).
func (r Record) Before(other Record) bool {
	if r.UpdateTime.Equal(other.UpdateTime) {
		return r.ID < other.ID
	}
	return r.UpdateTime.Before(other.UpdateTime)
}

// Page is a batch of records guaranteed ascending by (update_time, id).
// Construct it with NewPage.
type Page struct {
	records []Record
}

// NewPage checks the ordering contract and wraps the records.
func NewPage(records []Record) (*Page, error) {
	for i := 1; i < len(records); i++ {
		if !records[i-1].Before(records[i]) {
			return nil, fmt.Errorf("%w: row %d (id=%d) does not follow id=%d",
				ErrUnsortedPage, i, records[i].ID, records[i-1].ID)
		}
	}
	return &Page{records: records}, nil
}

// Records returns the records in order.
func (p *Page) Records() []Record {
	if p == nil {
		return nil
	}
	return p.records
}

// Len returns the number of fetched records.
func (p *Page) Len() int {
	if p == nil {
		return 0
	}
	return len(p.records)
}
