package usage

import (
	"context"
	"log/slog"

	"github.com/harvestcrm/telemetryd/internal/content"
)

// activeUserWindowDays is the trailing login window counted as "active".
const activeUserWindowDays = 30

// ContentRepository is the read-only surface the collector needs from the
// platform content store.
type ContentRepository interface {
	UsageCounts(ctx context.Context) (content.UsageCounts, error)
	CountDistinctActors(ctx context.Context, action string, sinceDays int) (int, error)
	CountUsers(ctx context.Context) (int, error)
}

// Snapshot is the immutable result of one aggregation pass. It is built fresh
// on every run and discarded once the payload is assembled.
type Snapshot struct {
	ActiveContacts int  `json:"active_contacts"`
	TotalContacts  int  `json:"total_contacts"`
	ActiveGroups   int  `json:"active_groups"`
	TotalGroups    int  `json:"total_groups"`
	ActiveChurches int  `json:"active_churches"`
	TotalChurches  int  `json:"total_churches"`
	ActiveUsers    int  `json:"active_users"`
	TotalUsers     int  `json:"total_users"`
	HasDemoData    bool `json:"has_demo_data"`
}

// Collector runs the aggregate queries that produce a Snapshot.
type Collector struct {
	repo   ContentRepository
	logger *slog.Logger
}

// NewCollector wires a collector to the content repository.
func NewCollector(repo ContentRepository, logger *slog.Logger) *Collector {
	return &Collector{repo: repo, logger: logger.With("component", "usage.collector")}
}

// Collect produces a snapshot of the current usage counts. Query failures
// leave the affected fields at zero rather than aborting the run: this is a
// best-effort reporting path, not a correctness-critical read.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	var snap Snapshot

	counts, err := c.repo.UsageCounts(ctx)
	if err != nil {
		c.logger.Debug("usage counts unavailable", "error", err)
	} else {
		snap.ActiveContacts = counts.ActiveContacts
		snap.TotalContacts = counts.TotalContacts
		snap.ActiveGroups = counts.ActiveGroups
		snap.TotalGroups = counts.TotalGroups
		snap.ActiveChurches = counts.ActiveChurches
		snap.TotalChurches = counts.TotalChurches
		snap.HasDemoData = counts.HasDemoData
	}

	activeUsers, err := c.repo.CountDistinctActors(ctx, content.ActionLoggedIn, activeUserWindowDays)
	if err != nil {
		c.logger.Debug("active user count unavailable", "error", err)
	} else {
		snap.ActiveUsers = activeUsers
	}

	totalUsers, err := c.repo.CountUsers(ctx)
	if err != nil {
		c.logger.Debug("total user count unavailable", "error", err)
	} else {
		snap.TotalUsers = totalUsers
	}

	return snap
}
