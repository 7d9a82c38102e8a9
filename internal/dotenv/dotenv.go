// Package dotenv pulls local overrides into the process environment so
// private keys and RPC endpoints stay out of shell history.
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// Load applies .env from the working directory. The file is optional;
// deployments that export real environment variables skip it entirely.
func Load() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}
