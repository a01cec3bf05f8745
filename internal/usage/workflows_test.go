package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/harvestcrm/telemetryd/internal/content"
)

func newWorkflowEnv(t *testing.T, reporter *Reporter) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(ReportUsageWorkflow, workflow.RegisterOptions{Name: reportWorkflowName})
	acts := NewReportActivities(reporter, testLogger())
	env.RegisterActivityWithOptions(acts.BuildPayloadActivity, activity.RegisterOptions{Name: buildActivityName})
	env.RegisterActivityWithOptions(acts.SendPayloadActivity, activity.RegisterOptions{Name: sendActivityName})
	return env
}

func TestReportUsageWorkflowDeliversPayload(t *testing.T) {
	db := newTestDB(t)
	contents := newTestContentStore(t, db)
	settingsStore := newTestSettingsStore(t, db)
	ctx := context.Background()

	// Three published contacts: one active, one merged duplicate.
	_, err := contents.InsertRecord(ctx,
		content.Record{Type: content.TypeContact, Status: content.StatusPublished, Title: "a"},
		map[string]string{content.MetaOverallStatus: content.StatusActive})
	require.NoError(t, err)
	_, err = contents.InsertRecord(ctx,
		content.Record{Type: content.TypeContact, Status: content.StatusPublished, Title: "b"}, nil)
	require.NoError(t, err)
	_, err = contents.InsertRecord(ctx,
		content.Record{Type: content.TypeContact, Status: content.StatusPublished, Title: "c"},
		map[string]string{content.MetaDuplicateOf: "1"})
	require.NoError(t, err)

	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
		received <- payload
	}))
	t.Cleanup(server.Close)

	builder := NewBuilder(testMeta())
	transmitter := NewTransmitter(server.URL, 0, nil, testLogger())
	reporter := NewReporter(
		NewCollector(contents, testLogger()),
		NewRegionsResolver(settingsStore, testLogger()),
		builder, transmitter, settingsStore, testLogger())

	env := newWorkflowEnv(t, reporter)
	env.ExecuteWorkflow(ReportUsageWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	payload := <-received
	require.Equal(t, "1", payload.Body.ActiveContacts)
	require.Equal(t, "2", payload.Body.TotalContacts)
	require.Equal(t, "0", payload.Body.TotalGroups)
	require.Equal(t, "0", payload.Body.Regions)
	require.Equal(t, 4, payload.UsageVersion)
}

func TestReportUsageWorkflowRespectsOptOut(t *testing.T) {
	db := newTestDB(t)
	contents := newTestContentStore(t, db)
	settingsStore := newTestSettingsStore(t, db)

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	transmitter := NewTransmitter(server.URL, 0,
		func(context.Context) bool { return true }, testLogger())
	reporter := NewReporter(
		NewCollector(contents, testLogger()),
		NewRegionsResolver(settingsStore, testLogger()),
		NewBuilder(testMeta()), transmitter, settingsStore, testLogger())

	env := newWorkflowEnv(t, reporter)
	env.ExecuteWorkflow(ReportUsageWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Zero(t, hits.Load())
}
