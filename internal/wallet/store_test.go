package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trading-wallets.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestEnsureWallets_NeverShrinks(t *testing.T) {
	s := newTestStore(t)

	first, err := s.EnsureWallets(5)
	if err != nil {
		t.Fatalf("ensure 5: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("got %d wallets, want 5", len(first))
	}

	second, err := s.EnsureWallets(2)
	if err != nil {
		t.Fatalf("ensure 2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("got %d wallets, want 2", len(second))
	}
	if got := len(s.Records()); got != 5 {
		t.Fatalf("pool shrank to %d records, want 5", got)
	}
	active, err := s.ActiveWallets()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 5 {
		t.Fatalf("active count %d, want 5", len(active))
	}
}

func TestEnsureWallets_IdempotentAndOrdered(t *testing.T) {
	s := newTestStore(t)

	a, err := s.EnsureWallets(3)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	b, err := s.EnsureWallets(3)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	for i := range a {
		if a[i].Address() != b[i].Address() {
			t.Fatalf("wallet %d changed between calls: %s vs %s", i, a[i].Address().Hex(), b[i].Address().Hex())
		}
	}
}

func TestDeactivateWallets_LIFO(t *testing.T) {
	s := newTestStore(t)
	wallets, err := s.EnsureWallets(4)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	deactivated, err := s.DeactivateWallets(2)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(deactivated) != 2 {
		t.Fatalf("deactivated %d, want 2", len(deactivated))
	}
	// Most recently created first.
	if deactivated[0] != wallets[3].Address().Hex() || deactivated[1] != wallets[2].Address().Hex() {
		t.Fatalf("wrong wallets deactivated: %v", deactivated)
	}

	active, err := s.ActiveWallets()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active count %d, want 2", len(active))
	}
	if active[0].Address() != wallets[0].Address() || active[1].Address() != wallets[1].Address() {
		t.Fatalf("remaining active wallets out of order")
	}
}

func TestDeactivateWallets_CountBeyondPool(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureWallets(3); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	deactivated, err := s.DeactivateWallets(10)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(deactivated) != 3 {
		t.Fatalf("deactivated %d, want all 3", len(deactivated))
	}
	active, err := s.ActiveWallets()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active wallets, got %d", len(active))
	}
	// Records survive deactivation.
	if got := len(s.Records()); got != 3 {
		t.Fatalf("records dropped to %d, want 3", got)
	}
}

func TestUpdateStats_BuyThenSell(t *testing.T) {
	s := newTestStore(t)
	wallets, err := s.EnsureWallets(1)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	addr := wallets[0].Address()

	if err := s.UpdateStats(addr, true, 1.25, 0); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := s.UpdateStats(addr, false, 0.75, 0.05); err != nil {
		t.Fatalf("sell: %v", err)
	}

	rec := s.Records()[0]
	if rec.Stats.Buys != 1 || rec.Stats.Sells != 1 {
		t.Fatalf("counters: %+v", rec.Stats)
	}
	if rec.Stats.Volume != 2.0 {
		t.Fatalf("volume: got %v want 2.0", rec.Stats.Volume)
	}
	if rec.Stats.Profit != 0.05 {
		t.Fatalf("profit: got %v want 0.05", rec.Stats.Profit)
	}
}

func TestUpdateStats_UnknownAddressIsNoOp(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureWallets(1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	before := s.Records()

	if err := s.UpdateStats(common.HexToAddress("0xdead0000000000000000000000000000000000aa"), true, 9, 9); err != nil {
		t.Fatalf("unknown address must not fail: %v", err)
	}
	after := s.Records()
	if before[0].Stats != after[0].Stats {
		t.Fatalf("stats mutated by unknown-address update")
	}
}

func TestStore_PersistsFullSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	wallets, err := s.EnsureWallets(2)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.DeactivateWallets(1); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// Reopen from disk and verify the snapshot carried everything.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	recs := reopened.Records()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if !recs[0].Active || recs[1].Active {
		t.Fatalf("active flags not persisted: %+v", recs)
	}
	if recs[0].Address != wallets[0].Address().Hex() {
		t.Fatalf("address not persisted")
	}

	// The on-disk form is a plain JSON array.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("store file is not a JSON array: %v", err)
	}
	if _, ok := raw[0]["private_key"]; !ok {
		t.Fatalf("store file missing private_key field")
	}
}
