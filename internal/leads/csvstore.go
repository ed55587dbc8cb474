package leads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	leadsFileName   = "leads.csv"
	resultsFileName = "results.csv"
	lockFileName    = ".store.lock"
	lockRetryDelay  = 25 * time.Millisecond
)

// CSVStore keeps leads.csv and results.csv in a directory. An advisory file
// lock serializes writers across processes so the CLI and a running server
// can share the files.
type CSVStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &CSVStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

func (s *CSVStore) LeadsPath() string   { return filepath.Join(s.dir, leadsFileName) }
func (s *CSVStore) ResultsPath() string { return filepath.Join(s.dir, resultsFileName) }

func (s *CSVStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("acquire store lock: %s is held", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *CSVStore) readLeads() ([]Lead, error) {
	f, err := os.Open(s.LeadsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open leads: %w", err)
	}
	defer f.Close()
	return ReadLeadsCSV(f)
}

func (s *CSVStore) readResults() ([]Result, error) {
	f, err := os.Open(s.ResultsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		return nil, nil
	}
	return ReadResultsCSV(f)
}

// writeLeads replaces leads.csv through a temp file and rename.
func (s *CSVStore) writeLeads(in []Lead) error {
	tmp, err := os.CreateTemp(s.dir, "leads-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("create temp leads: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := WriteLeadsCSV(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write leads: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp leads: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.LeadsPath()); err != nil {
		return fmt.Errorf("replace leads: %w", err)
	}
	return nil
}

func (s *CSVStore) ListPending(ctx context.Context) ([]Lead, error) {
	var out []Lead
	err := s.withLock(ctx, func() error {
		all, err := s.readLeads()
		if err != nil {
			return err
		}
		for _, l := range all {
			if l.Status == StatusPending {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

func (s *CSVStore) ListLeads(ctx context.Context) ([]Lead, error) {
	var out []Lead
	err := s.withLock(ctx, func() error {
		var err error
		out, err = s.readLeads()
		return err
	})
	return out, err
}

func (s *CSVStore) UpdateStatus(ctx context.Context, phone string, status Status) error {
	return s.withLock(ctx, func() error {
		all, err := s.readLeads()
		if err != nil {
			return err
		}
		found := false
		for i := range all {
			if all[i].Phone != phone || phone == "" {
				continue
			}
			if err := checkTransition(phone, all[i].Status, status); err != nil {
				return err
			}
			all[i].Status = status
			found = true
		}
		if !found {
			return ErrLeadNotFound
		}
		return s.writeLeads(all)
	})
}

func (s *CSVStore) AppendResult(ctx context.Context, result Result) error {
	if result.CallDate.IsZero() {
		result.CallDate = time.Now().UTC()
	}
	return s.withLock(ctx, func() error {
		f, err := os.OpenFile(s.ResultsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open results: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("stat results: %w", err)
		}
		rows := []Result{result}
		if info.Size() == 0 {
			err = WriteResultsCSV(f, rows)
		} else {
			err = appendResultRows(f, rows)
		}
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("append result: %w", err)
		}
		return f.Close()
	})
}

func (s *CSVStore) ListFailedSince(ctx context.Context, since time.Time) ([]Result, error) {
	var out []Result
	err := s.withLock(ctx, func() error {
		all, err := s.readResults()
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.Outcome.Failed() && !r.CallDate.Before(since) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

func (s *CSVStore) ListResults(ctx context.Context, limit int) ([]Result, error) {
	var out []Result
	err := s.withLock(ctx, func() error {
		all, err := s.readResults()
		out = limitResults(all, limit)
		return err
	})
	return out, err
}

// ImportLeads merges leads into leads.csv, replacing rows with the same phone.
func (s *CSVStore) ImportLeads(ctx context.Context, in []Lead) (int, error) {
	err := s.withLock(ctx, func() error {
		all, err := s.readLeads()
		if err != nil {
			return err
		}
		index := make(map[string]int, len(all))
		for i, l := range all {
			if l.Phone != "" {
				index[l.Phone] = i
			}
		}
		for _, l := range in {
			l = NormalizeLead(l)
			if i, ok := index[l.Phone]; ok && l.Phone != "" {
				all[i] = l
				continue
			}
			if l.Phone != "" {
				index[l.Phone] = len(all)
			}
			all = append(all, l)
		}
		return s.writeLeads(all)
	})
	if err != nil {
		return 0, err
	}
	return len(in), nil
}

func (s *CSVStore) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.withLock(ctx, func() error {
		all, err := s.readLeads()
		if err != nil {
			return err
		}
		results, err := s.readResults()
		if err != nil {
			return err
		}
		stats = computeStatistics(all, results)
		return nil
	})
	return stats, err
}

func (s *CSVStore) Close() error { return nil }
