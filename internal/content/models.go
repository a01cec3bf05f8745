package content

import "time"

// Record types and statuses used across the platform tables.
const (
	TypeContact = "contacts"
	TypeGroup   = "groups"

	StatusPublished = "publish"
)

// Metadata keys with platform-wide meaning.
const (
	MetaOverallStatus = "overall_status"
	MetaGroupStatus   = "group_status"
	MetaGroupType     = "group_type"
	MetaDuplicateOf   = "duplicate_of"
	MetaSample        = "_sample"

	GroupTypeChurch = "church"
	StatusActive    = "active"
)

// ActionLoggedIn marks a login entry in the activity log.
const ActionLoggedIn = "logged_in"

// Record is a typed, status-tagged row with key/value metadata attached.
type Record struct {
	ID        int64     `json:"id"`
	Type      string    `json:"record_type"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MetaFilter requires a metadata key/value pair to be present on a record.
type MetaFilter struct {
	Key   string
	Value string
}

// UsageCounts is the result of the single aggregation pass over the content
// tables. A zero value is a valid "nothing recorded" result.
type UsageCounts struct {
	ActiveContacts int
	TotalContacts  int
	ActiveGroups   int
	TotalGroups    int
	ActiveChurches int
	TotalChurches  int
	HasDemoData    bool
}
