package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trades.jsonl")
	l := Open(path)
	if l == nil {
		t.Fatal("Open returned nil for non-empty path")
	}
	defer l.Close()

	entries := []Entry{
		{Wallet: "0xaa", Side: "buy", TokenIn: "USDC", TokenOut: "MYSO", AmountIn: 1.5, TxHash: "0x01", Confirmed: true, GasUsed: 21000},
		{Wallet: "0xbb", Side: "sell", TokenIn: "MYSO", TokenOut: "USDC", AmountIn: 42, Error: "swap reverted"},
	}
	for _, e := range entries {
		if err := l.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0].Wallet != "0xaa" || got[0].Side != "buy" || !got[0].Confirmed {
		t.Fatalf("first entry = %+v", got[0])
	}
	if got[1].Error != "swap reverted" || got[1].Confirmed {
		t.Fatalf("second entry = %+v", got[1])
	}
	if got[0].Time.IsZero() {
		t.Fatal("zero time not stamped")
	}
}

func TestRecordRejectsBadSide(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "trades.jsonl"))
	defer l.Close()
	if err := l.Record(Entry{Wallet: "0xaa", Side: "hold"}); err == nil {
		t.Fatal("expected error for bad side")
	}
}

func TestNilLogDiscards(t *testing.T) {
	var l *Log
	if err := l.Record(Entry{Side: "buy"}); err != nil {
		t.Fatalf("nil log Record: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil log Close: %v", err)
	}
	if Open("   ") != nil {
		t.Fatal("blank path should yield nil log")
	}
}
