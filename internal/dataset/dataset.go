// Package dataset holds the accumulated review table: a fixed header and
// the rows harvested so far, in the order they were produced.
package dataset

import (
	"sync"

	"github.com/maltedev/amazon-review-harvester/internal/models"
)

// Dataset is the header-plus-rows collection of harvested reviews. A single
// harvest writes to it; the mutex only lets readers such as the HTTP API
// look at it while a harvest runs.
type Dataset struct {
	mu     sync.RWMutex
	header []string
	rows   []models.ReviewRecord
	// keys is built on the first deduplicating merge.
	keys map[models.DedupKey]struct{}
}

// New returns an empty dataset carrying only the header.
func New() *Dataset {
	return &Dataset{header: models.Header()}
}

// Header returns a copy of the dataset header.
func (d *Dataset) Header() []string {
	h := make([]string, len(d.header))
	copy(h, d.header)
	return h
}

func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}

// Rows returns a snapshot of the rows in order.
func (d *Dataset) Rows() []models.ReviewRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.ReviewRecord, len(d.rows))
	copy(out, d.rows)
	return out
}

// Append adds records after the existing rows without any deduplication.
func (d *Dataset) Append(records ...models.ReviewRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, records...)
	if d.keys != nil {
		for _, r := range records {
			d.keys[r.DedupKey()] = struct{}{}
		}
	}
}

// Merge appends records in order. With dedup set, a record whose dedup key
// is already present is skipped. It returns the records actually appended
// and how many were skipped.
func (d *Dataset) Merge(records []models.ReviewRecord, dedup bool) (added []models.ReviewRecord, skipped int) {
	if !dedup {
		d.Append(records...)
		return records, 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.keys == nil {
		d.keys = make(map[models.DedupKey]struct{}, len(d.rows))
		for _, r := range d.rows {
			d.keys[r.DedupKey()] = struct{}{}
		}
	}

	for _, r := range records {
		key := r.DedupKey()
		if _, ok := d.keys[key]; ok {
			skipped++
			continue
		}
		d.keys[key] = struct{}{}
		d.rows = append(d.rows, r)
		added = append(added, r)
	}
	return added, skipped
}
