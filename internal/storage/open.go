package storage

import (
	"errors"
	"strings"

	logx "crosspost/pkg/logx"
)

// Open initializes the sqlite-backed store. Path ":memory:" gives an
// in-process database, useful for tests and ad-hoc runs.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
