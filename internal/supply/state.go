package supply

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// State tracks lifetime released supply so restarts never mint past the
// cap. Released is base units, serialized as a decimal string because
// it routinely exceeds int64.
type State struct {
	Released    *big.Int
	Releases    int
	LastRelease time.Time
}

type stateFile struct {
	Released    string    `json:"released"`
	Releases    int       `json:"releases"`
	LastRelease time.Time `json:"last_release,omitempty"`
}

// LoadState reads the state file at path. A missing file is a fresh
// zero state, not an error.
func LoadState(path string) (State, error) {
	zero := State{Released: big.NewInt(0)}
	if path == "" {
		return zero, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, nil
		}
		return zero, err
	}

	var f stateFile
	if err := json.Unmarshal(b, &f); err != nil {
		return zero, fmt.Errorf("parse state %s: %w", path, err)
	}
	released, ok := new(big.Int).SetString(f.Released, 10)
	if !ok {
		return zero, fmt.Errorf("parse state %s: bad released %q", path, f.Released)
	}
	return State{Released: released, Releases: f.Releases, LastRelease: f.LastRelease}, nil
}

// SaveState writes st to path via tmp+rename so a crash mid-write never
// corrupts the file.
func SaveState(path string, st State) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	released := "0"
	if st.Released != nil {
		released = st.Released.String()
	}
	b, err := json.MarshalIndent(stateFile{
		Released:    released,
		Releases:    st.Releases,
		LastRelease: st.LastRelease,
	}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
