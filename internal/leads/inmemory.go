package leads

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps leads and results in process memory for local/dev use
// and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	leads   []Lead
	byPhone map[string]int
	results []Result
}

func NewInMemoryStore(initial ...Lead) *InMemoryStore {
	s := &InMemoryStore{byPhone: make(map[string]int)}
	_, _ = s.ImportLeads(context.Background(), initial)
	return s
}

func (s *InMemoryStore) ListPending(_ context.Context) ([]Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Lead
	for _, l := range s.leads {
		if l.Status == StatusPending {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListLeads(_ context.Context) ([]Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lead, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, phone string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byPhone[phone]
	if !ok {
		return ErrLeadNotFound
	}
	if err := checkTransition(phone, s.leads[i].Status, status); err != nil {
		return err
	}
	s.leads[i].Status = status
	return nil
}

func (s *InMemoryStore) AppendResult(_ context.Context, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.CallDate.IsZero() {
		result.CallDate = time.Now().UTC()
	}
	s.results = append(s.results, result)
	return nil
}

func (s *InMemoryStore) ListFailedSince(_ context.Context, since time.Time) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Result
	for _, r := range s.results {
		if r.Outcome.Failed() && !r.CallDate.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListResults(_ context.Context, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return limitResults(out, limit), nil
}

func (s *InMemoryStore) ImportLeads(_ context.Context, in []Lead) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range in {
		l = NormalizeLead(l)
		if i, exists := s.byPhone[l.Phone]; exists && l.Phone != "" {
			s.leads[i] = l
			continue
		}
		if l.Phone != "" {
			s.byPhone[l.Phone] = len(s.leads)
		}
		s.leads = append(s.leads, l)
	}
	return len(in), nil
}

func (s *InMemoryStore) Statistics(ctx context.Context) (Statistics, error) {
	all, _ := s.ListLeads(ctx)
	results, _ := s.ListResults(ctx, 0)
	return computeStatistics(all, results), nil
}

func (s *InMemoryStore) Close() error { return nil }
