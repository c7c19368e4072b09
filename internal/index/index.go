// Package index defines the full-text index consumer boundary. The
// engine feeds documents content-addressed by (doc_type, doc_id); the
// actual index lives outside the core.
package index

import (
	"context"
	"sync"
)

// Document is one indexable unit.
type Document struct {
	DocType string `json:"doc_type"` // "event" or "alert"
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Indexer receives documents from the rebuild step. Re-feeding the same
// (doc_type, doc_id) replaces the prior content.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Memory is an in-process indexer for dev and tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[[2]string]Document
}

// NewMemory creates an empty in-memory indexer.
func NewMemory() *Memory {
	return &Memory{docs: make(map[[2]string]Document)}
}

// Index stores the documents, overwriting by (doc_type, doc_id).
func (m *Memory) Index(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[[2]string{d.DocType, d.DocID}] = d
	}
	return nil
}

// Len returns the number of indexed documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Get returns a document by address.
func (m *Memory) Get(docType, docID string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[[2]string{docType, docID}]
	return d, ok
}
