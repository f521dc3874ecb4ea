package tokens

import (
	"context"
	"sync"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// Store persists the latest token per taxpayer
type Store interface {
	Get(ctx context.Context, rfc string) (model.LedgerToken, bool, error)
	Put(ctx context.Context, rfc string, tok model.LedgerToken) error
	Delete(ctx context.Context, rfc string) error
}

// MemoryStore keeps tokens in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]model.LedgerToken
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]model.LedgerToken)}
}

func (s *MemoryStore) Get(ctx context.Context, rfc string) (model.LedgerToken, bool, error) {
	select {
	case <-ctx.Done():
		return model.LedgerToken{}, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[rfc]
	return tok, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, rfc string, tok model.LedgerToken) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rfc] = tok
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, rfc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, rfc)
	return nil
}
