// Package ledger persists the execution trail: an append-only JSONL file
// of execution records plus a small state file holding the blacklist and
// per-target failure counters. Everything is loaded at startup and
// appended synchronously after every trade attempt, so the circuit
// breaker can always be recomputed from durable data.
package ledger

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"

	"github.com/caldre/arbot/internal/domain"
)

const (
	recordsFile = "records.jsonl"
	stateFile   = "state.json"
)

// Store is the on-disk ledger. All methods are safe for concurrent use.
type Store struct {
	dir string
	log *slog.Logger

	mu        sync.Mutex
	f         *os.File
	records   []domain.ExecutionRecord
	blacklist map[common.Address]struct{}
	failures  map[common.Address]int
}

type persistedState struct {
	Blacklist []string       `json:"blacklist"`
	Failures  map[string]int `json:"failures"`
}

// Open loads the ledger from dir, creating it when absent.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		log:       logger.With(slog.String("component", "ledger")),
		blacklist: make(map[common.Address]struct{}),
		failures:  make(map[common.Address]int),
	}
	if err := s.loadRecords(); err != nil {
		return nil, err
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, recordsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open records: %w", err)
	}
	s.f = f
	s.log.Info("ledger loaded",
		slog.Int("records", len(s.records)),
		slog.Int("blacklisted", len(s.blacklist)))
	return s, nil
}

// Close releases the append handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Append writes rec to the records file and keeps it in memory. The write
// is synced before returning so a crash cannot lose a recorded attempt.
func (s *Store) Append(_ context.Context, rec domain.ExecutionRecord) error {
	line, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every loaded record.
func (s *Store) Records() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Since returns the records with Time >= cutoff.
func (s *Store) Since(cutoff time.Time) []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, r := range s.records {
		if !r.Time.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Blacklisted reports whether target is excluded from trading.
func (s *Store) Blacklisted(target common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[target]
	return ok
}

// Failures returns the persisted failure count for target.
func (s *Store) Failures(target common.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[target]
}

// RecordFailure increments target's failure counter and persists the
// state, returning the new count.
func (s *Store) RecordFailure(_ context.Context, target common.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[target]++
	n := s.failures[target]
	return n, s.saveStateLocked()
}

// ClearFailures resets target's failure counter after a success.
func (s *Store) ClearFailures(_ context.Context, target common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[target]; !ok {
		return nil
	}
	delete(s.failures, target)
	return s.saveStateLocked()
}

// Blacklist permanently excludes target. Entries survive restarts and are
// removed only by ResetBlacklist.
func (s *Store) Blacklist(_ context.Context, target common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blacklist[target]; ok {
		return nil
	}
	s.blacklist[target] = struct{}{}
	s.log.Warn("target blacklisted", slog.String("target", target.Hex()))
	return s.saveStateLocked()
}

// ResetBlacklist clears the blacklist and all failure counters. This is
// the explicit operator intervention, never called from the trading path.
func (s *Store) ResetBlacklist(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = make(map[common.Address]struct{})
	s.failures = make(map[common.Address]int)
	return s.saveStateLocked()
}

// Rotate renames the current records file to a timestamped segment and
// starts a fresh one, returning the segment path for archival. In-memory
// records are kept so breaker windows spanning the rotation stay intact.
func (s *Store) Rotate(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Close(); err != nil {
		return "", fmt.Errorf("ledger: close for rotate: %w", err)
	}
	segment := filepath.Join(s.dir, fmt.Sprintf("records-%s.jsonl", time.Now().UTC().Format("20060102T150405")))
	if err := os.Rename(filepath.Join(s.dir, recordsFile), segment); err != nil {
		return "", fmt.Errorf("ledger: rotate: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, recordsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("ledger: reopen after rotate: %w", err)
	}
	s.f = f
	return segment, nil
}

func (s *Store) loadRecords() error {
	f, err := os.Open(filepath.Join(s.dir, recordsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: open records: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec domain.ExecutionRecord
		if err := sonnet.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn final line from a crash is tolerated; anything
			// else is corruption worth failing on.
			s.log.Warn("skipping unreadable ledger line",
				slog.Int("line", line), slog.Any("error", err))
			continue
		}
		s.records = append(s.records, rec)
	}
	return sc.Err()
}

func (s *Store) loadState() error {
	data, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: read state: %w", err)
	}
	var st persistedState
	if err := sonnet.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("ledger: decode state: %w", err)
	}
	for _, a := range st.Blacklist {
		s.blacklist[common.HexToAddress(a)] = struct{}{}
	}
	for a, n := range st.Failures {
		s.failures[common.HexToAddress(a)] = n
	}
	return nil
}

func (s *Store) saveStateLocked() error {
	st := persistedState{
		Blacklist: make([]string, 0, len(s.blacklist)),
		Failures:  make(map[string]int, len(s.failures)),
	}
	for a := range s.blacklist {
		st.Blacklist = append(st.Blacklist, a.Hex())
	}
	for a, n := range s.failures {
		st.Failures[a.Hex()] = n
	}
	data, err := sonnet.Marshal(st)
	if err != nil {
		return fmt.Errorf("ledger: encode state: %w", err)
	}
	tmp := filepath.Join(s.dir, stateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write state: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, stateFile)); err != nil {
		return fmt.Errorf("ledger: replace state: %w", err)
	}
	return nil
}
