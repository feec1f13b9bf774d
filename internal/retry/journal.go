package retry

import (
	"sync"
	"time"
)

// DefaultJournalSize bounds the number of retained failure records.
const DefaultJournalSize = 200

// Record is one diagnostic entry for a failed remote attempt. Every
// classified failure is recorded, whether or not it will be retried.
type Record struct {
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
	ProductID string    `json:"product_id,omitempty"`
	Size      string    `json:"size,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	UnitPrice int64     `json:"unit_price,omitempty"`
	Attempt   int       `json:"attempt"`
	Category  Category  `json:"category"`
	Retryable bool      `json:"retryable"`
	Message   string    `json:"message"`
}

// Journal is a bounded in-memory ring of failure records, oldest first.
// Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	size    int
	records []Record
}

// NewJournal creates a journal retaining at most size records.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{size: size, records: make([]Record, 0, size)}
}

// Append stores r, dropping the oldest record when full.
func (j *Journal) Append(r Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) == j.size {
		copy(j.records, j.records[1:])
		j.records = j.records[:j.size-1]
	}
	j.records = append(j.records, r)
}

// Records returns a copy of the retained records, oldest first.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

// Len returns the number of retained records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
