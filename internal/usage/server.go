package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harvestcrm/telemetryd/internal/content"
	"github.com/harvestcrm/telemetryd/internal/settings"
)

// ReportStarter abstracts how ad-hoc report runs are dispatched. Production
// backs this with the Temporal orchestrator.
type ReportStarter interface {
	RunReportAsync(ctx context.Context) (string, error)
}

// Server exposes the admin/introspection API for the telemetry extension:
// payload previews, manual report runs, schedule state, and the settings that
// gate the report.
type Server struct {
	reporter  *Reporter
	scheduler *Scheduler
	starter   ReportStarter
	contents  *content.Store
	settings  *settings.Store
	logger    *slog.Logger
}

// NewServer creates an admin server with the required collaborators wired in.
func NewServer(reporter *Reporter, scheduler *Scheduler, starter ReportStarter, contents *content.Store, store *settings.Store, logger *slog.Logger) *Server {
	return &Server{
		reporter:  reporter,
		scheduler: scheduler,
		starter:   starter,
		contents:  contents,
		settings:  store,
		logger:    logger,
	}
}

// Router configures all admin routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/usage", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/payload", s.handlePayloadPreview)
		r.Post("/report", s.handleRunReport)
		r.Get("/schedule", s.handleSchedule)
	})

	r.Route("/content", func(r chi.Router) {
		r.Get("/stats", s.handleContentStats)
		r.Post("/demo", s.handleSeedDemo)
	})

	r.Route("/settings/{key}", func(r chi.Router) {
		r.Get("/", s.handleGetSetting)
		r.Put("/", s.handlePutSetting)
		r.Delete("/", s.handleDeleteSetting)
	})

	return r
}

// handleSnapshot returns the raw numeric snapshot, the debugging view of what
// the next report would count.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.reporter.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

// handlePayloadPreview assembles the wire payload without transmitting it.
func (s *Server) handlePayloadPreview(w http.ResponseWriter, r *http.Request) {
	payload := s.reporter.BuildPayload(r.Context())
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	if s.starter == nil {
		writeError(w, http.StatusServiceUnavailable, "report orchestrator not configured")
		return
	}
	id, err := s.starter.RunReportAsync(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "dispatch report run: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": id})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	state, ok, err := s.scheduler.Describe(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "describe schedule: %v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "weekly trigger not registered")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleContentStats(w http.ResponseWriter, r *http.Request) {
	recordType := r.URL.Query().Get("type")
	if recordType == "" {
		writeError(w, http.StatusBadRequest, "type query parameter required")
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = content.StatusPublished
	}
	var filters []content.MetaFilter
	for key, values := range r.URL.Query() {
		if !strings.HasPrefix(key, "meta_") || len(values) == 0 {
			continue
		}
		filters = append(filters, content.MetaFilter{Key: strings.TrimPrefix(key, "meta_"), Value: values[0]})
	}

	count, err := s.contents.CountWhere(r.Context(), recordType, status, filters...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count records: %v", err)
		return
	}
	hasDemo, err := s.contents.ExistsMetadataKey(r.Context(), content.MetaSample)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "check demo marker: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record_type":   recordType,
		"status":        status,
		"count":         count,
		"has_demo_data": hasDemo,
	})
}

func (s *Server) handleSeedDemo(w http.ResponseWriter, r *http.Request) {
	created, err := s.contents.SeedDemoData(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "seed demo data: %v", err)
		return
	}
	s.logger.Info("demo data seeded", "records", created)
	writeJSON(w, http.StatusCreated, map[string]any{"created": created})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := s.settings.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get setting: %v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "setting not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read setting value: %v", err)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "setting value must be valid JSON")
		return
	}
	if err := s.settings.Set(r.Context(), key, body); err != nil {
		writeError(w, http.StatusInternalServerError, "set setting: %v", err)
		return
	}
	s.logger.Info("setting updated", "key", key)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": json.RawMessage(body)})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.settings.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "delete setting: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
