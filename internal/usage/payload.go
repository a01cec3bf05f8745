package usage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harvestcrm/telemetryd/internal/settings"
)

// usageVersion is the payload schema version. Bump it whenever the payload
// shape changes; the receiving side tolerates missing fields across versions.
const usageVersion = 4

// PlatformMetadata carries the site and version strings stamped into every
// payload. It is injected at construction so the builder never reads ambient
// globals.
type PlatformMetadata struct {
	SiteURL           string
	PlatformVersion   string
	PlatformDBVersion string
	RuntimeVersion    string
	ExtensionVersion  string
}

// Inventory is the active-extension list and capability probes loaded from
// the settings store for one run.
type Inventory struct {
	Extensions         []string
	UsingMapbox        bool
	UsingGoogleGeocode bool
}

// Payload is the wire-ready anonymized usage record.
type Payload struct {
	Validator    string      `json:"validator"`
	SiteID       string      `json:"site_id"`
	UsageVersion int         `json:"usage_version"`
	Body         PayloadBody `json:"payload"`
}

// PayloadBody duplicates the envelope identifiers and carries the snapshot.
// Every count is emitted as a string to tolerate heterogeneous ingestion
// typing on the receiving side; only flags and the extension list keep their
// native types.
type PayloadBody struct {
	SiteID            string `json:"site_id"`
	UsageVersion      int    `json:"usage_version"`
	RuntimeVersion    string `json:"runtime_version"`
	PlatformVersion   string `json:"platform_version"`
	PlatformDBVersion string `json:"platform_db_version"`
	SiteURL           string `json:"site_url"`
	ExtensionVersion  string `json:"extension_version"`

	ActiveContacts string `json:"active_contacts"`
	TotalContacts  string `json:"total_contacts"`
	ActiveGroups   string `json:"active_groups"`
	TotalGroups    string `json:"total_groups"`
	ActiveChurches string `json:"active_churches"`
	TotalChurches  string `json:"total_churches"`
	ActiveUsers    string `json:"active_users"`
	TotalUsers     string `json:"total_users"`
	HasDemoData    bool   `json:"has_demo_data"`

	Regions   string `json:"regions"`
	Timestamp string `json:"timestamp"`

	ActiveExtensions   []string `json:"active_extensions"`
	UsingMapbox        bool     `json:"using_mapbox"`
	UsingGoogleGeocode bool     `json:"using_google_geocode"`
}

// Builder assembles payloads from a snapshot, the regions string, and the
// injected platform metadata.
type Builder struct {
	meta PlatformMetadata
	now  func() time.Time
}

// NewBuilder constructs a payload builder. The clock is time.Now; tests may
// swap it through WithClock.
func NewBuilder(meta PlatformMetadata) *Builder {
	return &Builder{meta: meta, now: time.Now}
}

// WithClock returns a copy of the builder using the given clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	return &Builder{meta: b.meta, now: now}
}

// Build produces the wire payload. The validator is a hash of the submission
// time (an anti-replay marker, not a secret) and the site ID is a one-way
// hash of the canonical HTTPS site URL, stable across runs.
func (b *Builder) Build(snap Snapshot, regions string, inv Inventory) Payload {
	now := b.now().UTC()
	siteURL := canonicalSiteURL(b.meta.SiteURL)
	siteID := hashString(siteURL)

	if regions == "" {
		regions = "0"
	}
	if snap.TotalUsers < 0 {
		snap.TotalUsers = 0
	}

	return Payload{
		Validator:    hashString(strconv.FormatInt(now.Unix(), 10)),
		SiteID:       siteID,
		UsageVersion: usageVersion,
		Body: PayloadBody{
			SiteID:            siteID,
			UsageVersion:      usageVersion,
			RuntimeVersion:    b.meta.RuntimeVersion,
			PlatformVersion:   b.meta.PlatformVersion,
			PlatformDBVersion: b.meta.PlatformDBVersion,
			SiteURL:           siteURL,
			ExtensionVersion:  b.meta.ExtensionVersion,

			ActiveContacts: stringCount(snap.ActiveContacts),
			TotalContacts:  stringCount(snap.TotalContacts),
			ActiveGroups:   stringCount(snap.ActiveGroups),
			TotalGroups:    stringCount(snap.TotalGroups),
			ActiveChurches: stringCount(snap.ActiveChurches),
			TotalChurches:  stringCount(snap.TotalChurches),
			ActiveUsers:    stringCount(snap.ActiveUsers),
			TotalUsers:     stringCount(snap.TotalUsers),
			HasDemoData:    snap.HasDemoData,

			Regions:   regions,
			Timestamp: now.Format("2006-01-02"),

			ActiveExtensions:   inv.Extensions,
			UsingMapbox:        inv.UsingMapbox,
			UsingGoogleGeocode: inv.UsingGoogleGeocode,
		},
	}
}

// LoadInventory merges per-site and network-wide extension activation records
// and probes the geocoding credentials. Failures leave the affected values at
// their "off" defaults.
func LoadInventory(ctx context.Context, store SettingsReader, logger *slog.Logger) Inventory {
	var inv Inventory

	active, err := store.GetStringSlice(ctx, settings.KeyActiveExtensions)
	if err != nil {
		logger.Debug("active extensions unavailable", "error", err)
	}
	network, err := store.GetStringMap(ctx, settings.KeyNetworkActiveExtensions)
	if err != nil {
		logger.Debug("network extensions unavailable", "error", err)
	}
	for entry := range network {
		active = append(active, entry)
	}
	inv.Extensions = make([]string, 0, len(active))
	for _, entry := range active {
		inv.Extensions = append(inv.Extensions, extensionShortName(entry))
	}
	sort.Strings(inv.Extensions)

	mapboxKey, err := store.GetString(ctx, settings.KeyMapboxAPIKey)
	if err != nil {
		logger.Debug("mapbox key unavailable", "error", err)
	}
	inv.UsingMapbox = mapboxKey != ""

	googleKey, err := store.GetString(ctx, settings.KeyGoogleGeocodeAPIKey)
	if err != nil {
		logger.Debug("google geocode key unavailable", "error", err)
	}
	inv.UsingGoogleGeocode = googleKey != ""

	return inv
}

// extensionShortName extracts the extension name from a "directory/name"
// activation record.
func extensionShortName(entry string) string {
	if idx := strings.LastIndex(entry, "/"); idx >= 0 {
		return entry[idx+1:]
	}
	return entry
}

// canonicalSiteURL normalizes the configured site URL to its HTTPS form
// without a trailing slash so the site hash stays stable across runs.
func canonicalSiteURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return trimmed
	}
	parsed.Scheme = "https"
	return strings.TrimRight(parsed.String(), "/")
}

func hashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func stringCount(n int) string {
	if n <= 0 {
		return "0"
	}
	return strconv.Itoa(n)
}
