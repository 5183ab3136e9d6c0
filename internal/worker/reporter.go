package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/recognition"
)

const defaultReportTimeout = 5 * time.Second

// ReportPayload is the audit record forwarded after a job completes.
type ReportPayload struct {
	JobID      uint                   `json:"job_id"`
	JobType    string                 `json:"job_type"`
	StoreCode  string                 `json:"store_code"`
	DeviceCode string                 `json:"device_code"`
	AttemptNo  int                    `json:"attempt_no"`
	Status     string                 `json:"status"`
	Decision   string                 `json:"decision"`
	WorkerID   string                 `json:"worker_id"`
	Items      []recognition.ItemCount `json:"items,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Reporter forwards completed results to an external audit endpoint.
// Delivery is best-effort: the decision is already durable in the job row, so
// a failed send is logged and dropped, never retried into the decision path.
type Reporter struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewReporter creates a reporter, or nil when reporting is disabled.
func NewReporter(cfg conf.ReportSettings) *Reporter {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	logger := logging.ForService("reporter")
	if logger == nil {
		logger = slog.Default().With("service", "reporter")
	}
	return &Reporter{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// ReportAsync sends the payload on a goroutine and returns immediately.
func (r *Reporter) ReportAsync(job *datastore.InferenceJob, result *recognition.Result) {
	payload := buildPayload(job, result)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Send(ctx, payload); err != nil {
			r.logger.Warn("result report dropped", "job", payload.JobID, "error", err)
		}
	}()
}

// Send posts one payload synchronously. Exposed for tests and for callers
// that want delivery before shutdown.
func (r *Reporter) Send(ctx context.Context, payload ReportPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report endpoint returned %s", resp.Status)
	}
	return nil
}

// Flush waits for in-flight async reports, bounded by the report timeout.
func (r *Reporter) Flush() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.timeout):
		r.logger.Warn("reporter flush timed out with reports in flight")
	}
}

func buildPayload(job *datastore.InferenceJob, result *recognition.Result) ReportPayload {
	payload := ReportPayload{
		JobID:      job.ID,
		JobType:    job.JobType,
		StoreCode:  job.StoreCode,
		DeviceCode: job.DeviceCode,
		AttemptNo:  job.AttemptNo,
		Status:     job.Status,
		Decision:   job.Decision,
		WorkerID:   job.WorkerID,
		ReportedAt: time.Now(),
	}
	if result != nil {
		payload.Items = result.Items
	}
	return payload
}
