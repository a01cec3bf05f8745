package usage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestcrm/telemetryd/internal/settings"
)

func TestRegionsResolve(t *testing.T) {
	cases := []struct {
		name  string
		level string
		want  string
	}{
		{name: "absent", level: "", want: ""},
		{name: "root parent joins children only", level: `{"parent":"world","children":["A","B"]}`, want: "A,B"},
		// The parent is appended directly after the joined children with no
		// separator; the receiving service has always been fed this shape.
		{name: "non-root parent appended", level: `{"parent":"US","children":["A","B"]}`, want: "A,BUS"},
		{name: "no children emits parent alone", level: `{"parent":"US","children":[]}`, want: "US"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			store := newTestSettingsStore(t, db)
			ctx := context.Background()
			if tc.level != "" {
				require.NoError(t, store.Set(ctx, settings.KeyStartingMapLevel, json.RawMessage(tc.level)))
			}

			resolver := NewRegionsResolver(store, testLogger())
			require.Equal(t, tc.want, resolver.Resolve(ctx))
		})
	}
}

func TestRegionsResolveMalformed(t *testing.T) {
	db := newTestDB(t)
	store := newTestSettingsStore(t, db)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, settings.KeyStartingMapLevel, json.RawMessage(`["not","an","object"]`)))

	resolver := NewRegionsResolver(store, testLogger())
	require.Empty(t, resolver.Resolve(ctx))
}
