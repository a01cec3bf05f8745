package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

const (
	// triggerName identifies the single process-wide weekly trigger. It is
	// both the schedule_triggers primary key and the Temporal schedule ID.
	triggerName = "usage-weekly-report"

	reportIntervalDays = 7
	firstFireHour      = 1
)

// ScheduleState is the persisted record of the recurring trigger.
type ScheduleState struct {
	Name         string    `json:"name"`
	FirstFireAt  time.Time `json:"first_fire_at"`
	IntervalDays int       `json:"interval_days"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ScheduleStore owns the schedule_triggers table. The claim insert is the
// exclusive-write primitive that keeps concurrent initialization from
// registering the trigger twice.
type ScheduleStore struct {
	db *sql.DB
}

// NewScheduleStore constructs a schedule state data access object.
func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Init applies the schedule state schema.
func (s *ScheduleStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schedule_triggers (
			name TEXT PRIMARY KEY,
			first_fire_at TIMESTAMP NOT NULL,
			interval_days INTEGER NOT NULL,
			registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`)
	if err != nil {
		return fmt.Errorf("apply schedule schema: %w", err)
	}
	return nil
}

// Claim inserts the trigger row unless it already exists. Returns true when
// this caller won the registration.
func (s *ScheduleStore) Claim(ctx context.Context, name string, firstFire time.Time, intervalDays int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_triggers(name, first_fire_at, interval_days)
		 VALUES(?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, firstFire.UTC(), intervalDays)
	if err != nil {
		return false, fmt.Errorf("claim trigger: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// Get fetches the trigger row, reporting absence without error.
func (s *ScheduleStore) Get(ctx context.Context, name string) (ScheduleState, bool, error) {
	var state ScheduleState
	row := s.db.QueryRowContext(ctx,
		`SELECT name, first_fire_at, interval_days, registered_at
		 FROM schedule_triggers WHERE name = ?`, name)
	if err := row.Scan(&state.Name, &state.FirstFireAt, &state.IntervalDays, &state.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScheduleState{}, false, nil
		}
		return ScheduleState{}, false, fmt.Errorf("get trigger: %w", err)
	}
	return state, true, nil
}

// scheduleCreator is the slice of the Temporal schedule client the scheduler
// needs; client.Client's ScheduleClient() satisfies it.
type scheduleCreator interface {
	Create(ctx context.Context, options client.ScheduleOptions) (client.ScheduleHandle, error)
}

// SchedulerOptions tune the registration.
type SchedulerOptions struct {
	// TaskQueue receives the scheduled report workflow.
	TaskQueue string
	// TimeZone is the IANA zone the weekly 01:00 fire time is evaluated in.
	// Empty keeps the Temporal server default (UTC).
	TimeZone string
}

// Scheduler ensures exactly one weekly report trigger exists. Registration is
// idempotent on two levels: the claim row guards the persisted state, and the
// Temporal schedule ID is unique server-side, so racing initializers collapse
// into a single trigger either way.
type Scheduler struct {
	schedules scheduleCreator
	store     *ScheduleStore
	opts      SchedulerOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler wires the scheduler. The clock is time.Now; tests may swap it
// through WithClock.
func NewScheduler(schedules scheduleCreator, store *ScheduleStore, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if opts.TaskQueue == "" {
		opts.TaskQueue = reportTaskQueue
	}
	return &Scheduler{
		schedules: schedules,
		store:     store,
		opts:      opts,
		logger:    logger.With("component", "usage.scheduler"),
		now:       time.Now,
	}
}

// WithClock returns a copy of the scheduler using the given clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	clone := *s
	clone.now = now
	return &clone
}

// Ensure registers the weekly trigger if it is not already pending: first
// fire at 01:00 on the current calendar day's weekday, recurring every seven
// days. Calling it again, or from a second process, is a no-op.
func (s *Scheduler) Ensure(ctx context.Context) error {
	now := s.now()
	firstFire := time.Date(now.Year(), now.Month(), now.Day(), firstFireHour, 0, 0, 0, now.Location())

	claimed, err := s.store.Claim(ctx, triggerName, firstFire, reportIntervalDays)
	if err != nil {
		return fmt.Errorf("ensure trigger: %w", err)
	}

	// Create the schedule even when the row was already present: a previous
	// initializer may have crashed between the claim and the create, and the
	// server rejects a duplicate ID anyway.
	_, err = s.schedules.Create(ctx, client.ScheduleOptions{
		ID: triggerName,
		Spec: client.ScheduleSpec{
			Calendars: []client.ScheduleCalendarSpec{
				{
					Hour:      []client.ScheduleRange{{Start: firstFireHour}},
					DayOfWeek: []client.ScheduleRange{{Start: int(firstFire.Weekday())}},
					Comment:   "weekly usage report",
				},
			},
			TimeZoneName: s.opts.TimeZone,
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        triggerName,
			Workflow:  reportWorkflowName,
			TaskQueue: s.opts.TaskQueue,
		},
	})
	if err != nil {
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
			s.logger.Debug("weekly report trigger already registered")
			return nil
		}
		return fmt.Errorf("create report schedule: %w", err)
	}

	s.logger.Info("weekly report trigger registered",
		"first_fire_at", firstFire, "interval_days", reportIntervalDays, "claimed", claimed)
	return nil
}

// Describe returns the persisted trigger state for the admin API.
func (s *Scheduler) Describe(ctx context.Context) (ScheduleState, bool, error) {
	return s.store.Get(ctx, triggerName)
}
