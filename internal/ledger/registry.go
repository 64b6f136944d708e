package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry resolves which ledger owns a position. Ledgers are registered at
// deployment wiring; the engine only reads.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// Register adds a ledger. Registering the same ID twice replaces it.
func (r *Registry) Register(b *Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[b.ID()] = b
}

// Get returns a ledger by ID.
func (r *Registry) Get(id string) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[id]
	return b, ok
}

// OwnerOf finds the ledger owning a position. A missing position is fatal
// to the caller; positions must exist before liquidation.
func (r *Registry) OwnerOf(position uuid.UUID) (*Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.books {
		if b.HasPosition(position) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("position %s not found on any registered ledger", position)
}
