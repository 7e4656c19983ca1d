package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator produces deterministic update identifiers shaped like the
// generated "YYYY-MM-DD-<16 hex>" form.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator constructs a generator for the given date prefix. When
// prefix is empty the ReferenceTime date is used.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = referenceTime.Format("2006-01-02")
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%016x", g.prefix, g.counter)
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *IDGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}
