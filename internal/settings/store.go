package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known setting keys consumed by the usage report.
const (
	KeyStartingMapLevel        = "starting_map_level"
	KeyUsageReportDisabled     = "usage_report_disabled"
	KeyActiveExtensions        = "active_extensions"
	KeyNetworkActiveExtensions = "network_active_extensions"
	KeyMapboxAPIKey            = "mapbox_api_key"
	KeyGoogleGeocodeAPIKey     = "google_geocode_api_key"
)

// Store is the process-wide key/value configuration table. Values are stored
// as JSON documents; an absent key is a valid "off" state, never an error.
type Store struct {
	db *sql.DB
}

// NewStore constructs a settings data access object.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the settings schema.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("apply settings schema: %w", err)
	}
	return nil
}

// Get returns the raw JSON value for the key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

// Set stores a raw JSON value under the key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("set setting %q: value is not valid JSON", key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

// GetString decodes a string setting; absent or malformed values yield "".
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", nil
	}
	return value, nil
}

// GetBool decodes a boolean setting; absent or malformed values yield false.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, nil
	}
	return value, nil
}

// GetStringSlice decodes a list setting; absent or malformed values yield nil.
func (s *Store) GetStringSlice(ctx context.Context, key string) ([]string, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, nil
	}
	return values, nil
}

// GetStringMap decodes an object setting keyed by string; absent or malformed
// values yield nil.
func (s *Store) GetStringMap(ctx context.Context, key string) (map[string]int64, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	values := map[string]int64{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, nil
	}
	return values, nil
}
