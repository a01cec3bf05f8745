package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/harvestcrm/telemetryd/internal/settings"
)

// rootRegion is the sentinel parent for an unscoped geographic hierarchy.
const rootRegion = "world"

// SettingsReader is the read surface the usage report needs from the
// settings store.
type SettingsReader interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	GetString(ctx context.Context, key string) (string, error)
	GetBool(ctx context.Context, key string) (bool, error)
	GetStringSlice(ctx context.Context, key string) ([]string, error)
	GetStringMap(ctx context.Context, key string) (map[string]int64, error)
}

// RegionsResolver flattens the configured geographic hierarchy into the
// display string carried by the payload.
type RegionsResolver struct {
	settings SettingsReader
	logger   *slog.Logger
}

// NewRegionsResolver wires a resolver to the settings store.
func NewRegionsResolver(store SettingsReader, logger *slog.Logger) *RegionsResolver {
	return &RegionsResolver{settings: store, logger: logger.With("component", "usage.regions")}
}

type mapLevel struct {
	Parent   string   `json:"parent"`
	Children []string `json:"children"`
}

// Resolve reads the starting map level setting and flattens it. An absent
// setting yields the empty string. When children are present they are joined
// with commas and a non-root parent is appended directly after them; the
// missing separator before the parent is longstanding observable output and
// the receiving service's parsing of it is unknown, so it stays as-is.
func (r *RegionsResolver) Resolve(ctx context.Context) string {
	raw, ok, err := r.settings.Get(ctx, settings.KeyStartingMapLevel)
	if err != nil {
		r.logger.Debug("map level unavailable", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	var level mapLevel
	if err := json.Unmarshal(raw, &level); err != nil {
		r.logger.Debug("map level malformed", "error", err)
		return ""
	}

	if len(level.Children) > 0 {
		data := strings.Join(level.Children, ",")
		if level.Parent != rootRegion {
			data += level.Parent
		}
		return data
	}
	return level.Parent
}
