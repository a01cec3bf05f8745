package content

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store encapsulates access to the platform content tables in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore constructs a content data access object.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies schema changes for the record, metadata, activity, and user tables.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_type TEXT NOT NULL,
			status TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS record_meta (
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_type_status ON records(record_type, status);`,
		`CREATE INDEX IF NOT EXISTS idx_record_meta_key ON record_meta(meta_key, record_id);`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			hist_time INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_action_time ON activity_log(action, hist_time);`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply content schema: %w", err)
		}
	}
	return nil
}

// UsageCounts computes every aggregate the weekly report needs in one pass so
// the content tables are scanned once instead of seven times.
//
// Total contacts exclude merged duplicates (any record carrying a duplicate_of
// key); churches require the status and type metadata joins on the same record.
func (s *Store) UsageCounts(ctx context.Context) (UsageCounts, error) {
	var counts UsageCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT

		(
		SELECT COUNT(*)
		FROM records r
		JOIN record_meta m ON m.record_id = r.id AND m.meta_key = 'overall_status' AND m.meta_value = 'active'
		WHERE r.record_type = 'contacts'
		AND r.status = 'publish'
		) as active_contacts,

		(
		SELECT COUNT(*)
		FROM records r
		WHERE r.record_type = 'contacts'
		AND r.status = 'publish'
		AND r.id NOT IN (SELECT record_id FROM record_meta WHERE meta_key = 'duplicate_of')
		) as total_contacts,

		(
		SELECT COUNT(*)
		FROM records r
		JOIN record_meta m ON m.record_id = r.id AND m.meta_key = 'group_status' AND m.meta_value = 'active'
		WHERE r.record_type = 'groups'
		AND r.status = 'publish'
		) as active_groups,

		(
		SELECT COUNT(*)
		FROM records r
		WHERE r.record_type = 'groups'
		AND r.status = 'publish'
		) as total_groups,

		(
		SELECT COUNT(*)
		FROM records r
		JOIN record_meta st ON st.record_id = r.id AND st.meta_key = 'group_status' AND st.meta_value = 'active'
		JOIN record_meta ty ON ty.record_id = r.id AND ty.meta_key = 'group_type' AND ty.meta_value = 'church'
		WHERE r.record_type = 'groups'
		AND r.status = 'publish'
		) as active_churches,

		(
		SELECT COUNT(*)
		FROM records r
		JOIN record_meta ty ON ty.record_id = r.id AND ty.meta_key = 'group_type' AND ty.meta_value = 'church'
		WHERE r.record_type = 'groups'
		AND r.status = 'publish'
		) as total_churches,

		(
		SELECT EXISTS(SELECT 1 FROM record_meta WHERE meta_key = '_sample')
		) as has_demo_data
	`).Scan(
		&counts.ActiveContacts,
		&counts.TotalContacts,
		&counts.ActiveGroups,
		&counts.TotalGroups,
		&counts.ActiveChurches,
		&counts.TotalChurches,
		&counts.HasDemoData,
	)
	if err != nil {
		return UsageCounts{}, fmt.Errorf("usage counts: %w", err)
	}
	return counts, nil
}

// CountDistinctActors counts distinct non-anonymous users with an activity-log
// entry for the action within the trailing sinceDays days, inclusive of the
// current day (the window opens at midnight UTC sinceDays ago).
func (s *Store) CountDistinctActors(ctx context.Context, action string, sinceDays int) (int, error) {
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)
	windowStart := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM activity_log
		WHERE action = ?
		AND user_id != 0
		AND hist_time >= ?
	`, action, windowStart.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct actors: %w", err)
	}
	return count, nil
}

// CountUsers returns the total number of registered users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// CountWhere counts records of the given type and status, requiring every
// metadata filter to match on the same record.
func (s *Store) CountWhere(ctx context.Context, recordType, status string, filters ...MetaFilter) (int, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT COUNT(*) FROM records r`)
	args := []any{}
	for i, f := range filters {
		fmt.Fprintf(&query, ` JOIN record_meta m%d ON m%d.record_id = r.id AND m%d.meta_key = ? AND m%d.meta_value = ?`, i, i, i, i)
		args = append(args, f.Key, f.Value)
	}
	query.WriteString(` WHERE r.record_type = ? AND r.status = ?`)
	args = append(args, recordType, status)

	var count int
	if err := s.db.QueryRowContext(ctx, query.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// ExistsMetadataKey reports whether any metadata row carries the key,
// regardless of its value.
func (s *Store) ExistsMetadataKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM record_meta WHERE meta_key = ?)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("metadata key exists: %w", err)
	}
	return exists, nil
}

// InsertRecord stores a record with its metadata in one transaction and
// returns the new record ID.
func (s *Store) InsertRecord(ctx context.Context, rec Record, meta map[string]string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert record: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO records(record_type, status, title, created_at)
		 VALUES(?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))`,
		rec.Type, rec.Status, rec.Title, utcOrNil(rec.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record id: %w", err)
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_meta(record_id, meta_key, meta_value) VALUES(?, ?, ?)`,
			id, key, value); err != nil {
			return 0, fmt.Errorf("insert record meta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit record: %w", err)
	}
	return id, nil
}

// InsertUser registers a user and returns its ID.
func (s *Store) InsertUser(ctx context.Context, displayName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(display_name) VALUES(?)`, displayName)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

// LogActivity appends an activity-log entry at the given time.
func (s *Store) LogActivity(ctx context.Context, userID int64, action string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log(user_id, action, hist_time) VALUES(?, ?, ?)`,
		userID, action, at.UTC().Unix()); err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// SeedDemoData inserts a small set of sample-marked records so an operator can
// exercise the reporting pipeline on an empty install. Returns the number of
// records created.
func (s *Store) SeedDemoData(ctx context.Context) (int, error) {
	seeds := []struct {
		rec  Record
		meta map[string]string
	}{
		{Record{Type: TypeContact, Status: StatusPublished, Title: "Sample Contact " + shortID()},
			map[string]string{MetaOverallStatus: StatusActive, MetaSample: "1"}},
		{Record{Type: TypeContact, Status: StatusPublished, Title: "Sample Contact " + shortID()},
			map[string]string{MetaSample: "1"}},
		{Record{Type: TypeGroup, Status: StatusPublished, Title: "Sample Group " + shortID()},
			map[string]string{MetaGroupStatus: StatusActive, MetaSample: "1"}},
		{Record{Type: TypeGroup, Status: StatusPublished, Title: "Sample Church " + shortID()},
			map[string]string{MetaGroupStatus: StatusActive, MetaGroupType: GroupTypeChurch, MetaSample: "1"}},
	}
	created := 0
	for _, seed := range seeds {
		if _, err := s.InsertRecord(ctx, seed.rec, seed.meta); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}

func utcOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
