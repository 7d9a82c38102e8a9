package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Stats accumulates per-wallet trading totals. Volume and profit are
// denominated in the stable asset's human units.
type Stats struct {
	Buys   int     `json:"buys"`
	Sells  int     `json:"sells"`
	Volume float64 `json:"volume"`
	Profit float64 `json:"profit"`
}

// Record is one wallet entry in the store file. Deactivated wallets keep
// their record (and stats history); they are never physically removed.
type Record struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Active     bool   `json:"active"`
	Stats      Stats  `json:"stats"`
}

// Store manages the trading wallet pool. Every mutation rewrites the whole
// backing file through a tmp+rename, so readers never observe a partial
// write.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// Open loads the store at path, creating an empty file if none exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("wallet store path required")
	}
	s := &Store{path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := s.persistLocked(); err != nil {
				return nil, err
			}
			return s, nil
		}
		return nil, fmt.Errorf("read wallet store %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &s.records); err != nil {
		return nil, fmt.Errorf("parse wallet store %s: %w", path, err)
	}
	return s, nil
}

// EnsureWallets guarantees at least n records exist, creating random wallets
// as needed, and returns signers for the first n. It never removes or
// deactivates existing wallets.
func (s *Store) EnsureWallets(n int) ([]*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for len(s.records) < n {
		w, err := Generate()
		if err != nil {
			return nil, err
		}
		s.records = append(s.records, Record{
			Address:    w.Address().Hex(),
			PrivateKey: w.PrivateKeyHex(),
			Active:     true,
		})
		created++
	}
	if created > 0 {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		log.Printf("[info] created %d new trading wallet(s), pool size %d", created, len(s.records))
	}

	out := make([]*Wallet, 0, n)
	for _, rec := range s.records[:n] {
		w, err := New(rec.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", rec.Address, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// ActiveWallets returns signers for all active records, insertion order.
func (s *Store) ActiveWallets() ([]*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Wallet
	for _, rec := range s.records {
		if !rec.Active {
			continue
		}
		w, err := New(rec.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", rec.Address, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// Records returns a copy of all records, active or not.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// DeactivateWallets flips the most recently added count active wallets to
// inactive (LIFO) and returns their addresses. count beyond the active pool
// deactivates everything.
func (s *Store) DeactivateWallets(count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deactivated []string
	for i := len(s.records) - 1; i >= 0 && len(deactivated) < count; i-- {
		if !s.records[i].Active {
			continue
		}
		s.records[i].Active = false
		deactivated = append(deactivated, s.records[i].Address)
	}
	if len(deactivated) == 0 {
		return nil, nil
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return deactivated, nil
}

// UpdateStats records a confirmed trade against a wallet. An unknown
// address is a logged no-op: stats are best-effort bookkeeping and must not
// fail a trade that already confirmed on-chain.
func (s *Store) UpdateStats(addr common.Address, isBuy bool, volume, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if !strings.EqualFold(s.records[i].Address, addr.Hex()) {
			continue
		}
		if isBuy {
			s.records[i].Stats.Buys++
		} else {
			s.records[i].Stats.Sells++
		}
		s.records[i].Stats.Volume += volume
		s.records[i].Stats.Profit += profit
		return s.persistLocked()
	}
	log.Printf("[warn] stats update for unknown wallet %s ignored", addr.Hex())
	return nil
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	records := s.records
	if records == nil {
		records = []Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
