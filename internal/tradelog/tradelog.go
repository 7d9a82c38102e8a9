// Package tradelog appends one JSON line per executed trade so the
// history survives restarts and can be tailed or replayed offline.
package tradelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one trade as recorded on disk. Amounts are human units.
type Entry struct {
	Time      time.Time `json:"time"`
	Wallet    string    `json:"wallet"`
	Side      string    `json:"side"` // "buy" or "sell"
	TokenIn   string    `json:"token_in"`
	TokenOut  string    `json:"token_out"`
	AmountIn  float64   `json:"amount_in"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Confirmed bool      `json:"confirmed"`
	GasUsed   uint64    `json:"gas_used,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Log appends newline-delimited trade entries to a file.
//
// It is safe for concurrent use. A nil *Log discards everything, so
// callers can pass through an unconfigured log without nil checks.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// Open returns a trade log that appends to path. If path is empty or
// blank, it returns nil and all writes become no-ops.
func Open(path string) *Log {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Log{path: path}
}

func (l *Log) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Record appends e as a single JSON object followed by '\n', flushing so
// the line is immediately visible to tailers. A zero Time is stamped now.
func (l *Log) Record(e Entry) error {
	if l == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Side != "buy" && e.Side != "sell" {
		return fmt.Errorf("tradelog: bad side %q", e.Side)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes buffered data and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil
	return firstErr
}
