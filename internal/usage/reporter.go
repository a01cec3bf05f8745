package usage

import (
	"context"
	"log/slog"
)

// Reporter runs one reporting pass: collect the snapshot, resolve regions,
// load the extension inventory, shape the payload, and deliver it. Each run
// computes fresh values; nothing is retained between runs.
type Reporter struct {
	collector   *Collector
	regions     *RegionsResolver
	builder     *Builder
	transmitter *Transmitter
	settings    SettingsReader
	logger      *slog.Logger
}

// NewReporter wires the reporting pipeline.
func NewReporter(collector *Collector, regions *RegionsResolver, builder *Builder, transmitter *Transmitter, store SettingsReader, logger *slog.Logger) *Reporter {
	return &Reporter{
		collector:   collector,
		regions:     regions,
		builder:     builder,
		transmitter: transmitter,
		settings:    store,
		logger:      logger.With("component", "usage.reporter"),
	}
}

// BuildPayload assembles the payload for the current state of the install.
// Collection faults have already been defaulted away, so this cannot fail.
func (r *Reporter) BuildPayload(ctx context.Context) Payload {
	snap := r.collector.Collect(ctx)
	regions := r.regions.Resolve(ctx)
	inv := LoadInventory(ctx, r.settings, r.logger)
	return r.builder.Build(snap, regions, inv)
}

// Deliver hands the payload to the transmitter.
func (r *Reporter) Deliver(ctx context.Context, payload Payload) {
	r.transmitter.Send(ctx, payload)
}

// Snapshot exposes the raw numeric snapshot for the admin API.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	return r.collector.Collect(ctx)
}
