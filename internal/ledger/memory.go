package ledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rezonia/fiscal-sync/internal/model"
)

// MemoryStore keeps records in process. Every record is stored as JSON so
// callers never share memory with the store, like a real backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records [][]byte
	keys    map[string]bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]bool)}
}

func recordKey(r Record) string {
	return r.BatchID + "\x00" + string(r.RequestStatus) + "\x00" + r.DocumentID
}

func (s *MemoryStore) Insert(ctx context.Context, r Record) error {
	return s.InsertMany(ctx, []Record{r})
}

func (s *MemoryStore) InsertMany(ctx context.Context, rs []Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	encoded := make([][]byte, len(rs))
	for i, r := range rs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		encoded[i] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range rs {
		key := recordKey(r)
		if s.keys[key] {
			continue
		}
		s.keys[key] = true
		s.records = append(s.records, encoded[i])
	}
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, f Filter) ([]Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, b := range s.records {
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, f Filter) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var n int64
	for _, b := range s.records {
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return n, err
		}
		if f.Match(r) {
			delete(s.keys, recordKey(r))
			n++
			continue
		}
		kept = append(kept, b)
	}
	s.records = kept
	return n, nil
}

func (s *MemoryStore) Count(ctx context.Context, f Filter) (int64, error) {
	rs, err := s.Find(ctx, f)
	return int64(len(rs)), err
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, f Filter, status model.DeliveryStatus) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i, b := range s.records {
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return n, err
		}
		if !f.Match(r) {
			continue
		}
		r.Status = status
		updated, err := json.Marshal(r)
		if err != nil {
			return n, err
		}
		s.records[i] = updated
		n++
	}
	return n, nil
}
