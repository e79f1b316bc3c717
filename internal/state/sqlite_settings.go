package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Setting returns a client-local setting.
func (s *SQLiteStore) Setting(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, errNotOpened
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores a client-local setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	if s.db == nil {
		return errNotOpened
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
