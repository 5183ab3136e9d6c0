package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/recognition"
)

const reportURL = "http://audit.local/api/results"

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	r := NewReporter(conf.ReportSettings{
		Enabled: true,
		URL:     reportURL,
		Timeout: time.Second,
	})
	require.NotNil(t, r)
	httpmock.ActivateNonDefault(r.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return r
}

func doneJob() *datastore.InferenceJob {
	sessionID := uint(7)
	return &datastore.InferenceJob{
		ID:         42,
		JobType:    datastore.JobTypeTray,
		Status:     datastore.JobDone,
		StoreCode:  "S001",
		DeviceCode: "KIOSK-1",
		SessionID:  &sessionID,
		AttemptNo:  1,
		Decision:   string(recognition.DecisionAuto),
		WorkerID:   "worker-a",
	}
}

func TestReporterSendsPayload(t *testing.T) {
	r := newTestReporter(t)

	var got ReportPayload
	httpmock.RegisterResponder("POST", reportURL,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(400, "bad payload"), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	result := &recognition.Result{
		Decision: recognition.DecisionAuto,
		Items:    []recognition.ItemCount{{ItemID: 101, Qty: 2}},
	}
	require.NoError(t, r.Send(context.Background(), buildPayload(doneJob(), result)))

	assert.Equal(t, uint(42), got.JobID)
	assert.Equal(t, "DONE", got.Status)
	assert.Equal(t, "AUTO", got.Decision)
	assert.Equal(t, []recognition.ItemCount{{ItemID: 101, Qty: 2}}, got.Items)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestReporterNonSuccessStatusIsError(t *testing.T) {
	r := newTestReporter(t)
	httpmock.RegisterResponder("POST", reportURL,
		httpmock.NewStringResponder(500, "downstream exploded"))

	err := r.Send(context.Background(), buildPayload(doneJob(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestReporterAsyncSwallowsFailure(t *testing.T) {
	r := newTestReporter(t)
	httpmock.RegisterResponder("POST", reportURL,
		httpmock.NewErrorResponder(assert.AnError))

	// Must not panic or surface the error; the decision is already stored.
	r.ReportAsync(doneJob(), nil)
	r.Flush()
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestReporterDisabled(t *testing.T) {
	assert.Nil(t, NewReporter(conf.ReportSettings{Enabled: false, URL: reportURL}))
	assert.Nil(t, NewReporter(conf.ReportSettings{Enabled: true, URL: ""}))
}
