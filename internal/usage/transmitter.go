package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/harvestcrm/telemetryd/internal/settings"
)

const (
	defaultSendTimeout = 45 * time.Second
	maxRedirects       = 5
)

// OptOutFunc reports whether usage reporting is currently disabled. It is
// evaluated once per run, before any network activity.
type OptOutFunc func(ctx context.Context) bool

// Transmitter performs the best-effort delivery of a payload to the remote
// telemetry endpoint. Send deliberately returns nothing: delivery faults are
// never surfaced, retried, or confirmed, and callers must not be able to
// depend on the outcome.
type Transmitter struct {
	endpoint string
	client   *http.Client
	optOut   OptOutFunc
	logger   *slog.Logger
}

// NewTransmitter builds a transmitter for the endpoint. A zero timeout falls
// back to the 45 second default; a nil optOut leaves reporting enabled.
func NewTransmitter(endpoint string, timeout time.Duration, optOut OptOutFunc, logger *slog.Logger) *Transmitter {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if optOut == nil {
		optOut = func(context.Context) bool { return false }
	}
	return &Transmitter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("stopped after 5 redirects")
				}
				return nil
			},
		},
		optOut: optOut,
		logger: logger.With("component", "usage.transmitter"),
	}
}

// Send posts the payload unless the opt-out flag is set. It never fails: any
// serialization, network, or status fault is dropped after a debug log.
func (t *Transmitter) Send(ctx context.Context, payload Payload) {
	if t.optOut(ctx) {
		t.logger.Debug("usage reporting disabled; skipping send")
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		t.logger.Debug("marshal payload", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		t.logger.Debug("create report request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// Airgapped or firewalled installs are expected; delivery is best effort.
		t.logger.Debug("submit usage report", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Debug("telemetry endpoint refused report", "status", resp.StatusCode)
		return
	}
	t.logger.Debug("usage report submitted", "site_id", payload.SiteID)
}

// SettingsOptOut builds the default opt-out check: the forced configuration
// flag wins, otherwise the stored setting decides. Reporting stays enabled
// when the setting is absent or unreadable.
func SettingsOptOut(forceDisabled bool, store SettingsReader) OptOutFunc {
	return func(ctx context.Context) bool {
		if forceDisabled {
			return true
		}
		disabled, err := store.GetBool(ctx, settings.KeyUsageReportDisabled)
		if err != nil {
			return false
		}
		return disabled
	}
}
