package repository

import (
	"github.com/jaakkos/conductor/internal/repository/sqlite"
)

// NewStore returns the SQLite-backed session and mailbox store at the given
// path. The path is typically from policy.StateFile() (default
// ~/.config/conductor/state.sqlite).
func NewStore(path string) (*sqlite.Store, error) {
	return sqlite.New(path)
}
