// Package worker runs the recognition worker loop: claim a job from the
// queue, resolve its frame, run the recognition pipeline and complete the job
// with the result. The loop is crash-only: any failure during inference
// completes the job FAILED with decision UNKNOWN so the kiosk is never left
// waiting on a wedged attempt.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/jobqueue"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/observability"
	"github.com/trayvision/trayvision-go/internal/recognition"
)

const defaultPollInterval = 2 * time.Second

// Worker drains the tray job queue against one recognition pipeline.
type Worker struct {
	id       string
	queue    *jobqueue.Service
	pipeline *recognition.Pipeline
	fetcher  recognition.FrameFetcher
	reporter *Reporter
	poll     time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a worker. fetcher may be nil when all jobs carry inline frame
// bytes; reporter may be nil to disable result forwarding.
func New(queue *jobqueue.Service, pipeline *recognition.Pipeline, fetcher recognition.FrameFetcher, reporter *Reporter, cfg conf.WorkerSettings) *Worker {
	id := cfg.ID
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := logging.ForService("worker")
	if logger == nil {
		logger = slog.Default().With("service", "worker")
	}
	return &Worker{
		id:       id,
		queue:    queue,
		pipeline: pipeline,
		fetcher:  fetcher,
		reporter: reporter,
		poll:     poll,
		logger:   logger.With("worker", id),
	}
}

// ID returns the worker identity recorded on claimed jobs.
func (w *Worker) ID() string { return w.id }

// SetMetrics attaches metric collectors. Optional.
func (w *Worker) SetMetrics(m *observability.Metrics) { w.metrics = m }

// Run claims and processes jobs until the context is cancelled. An empty
// queue is not an error; the worker sleeps one poll interval and tries again.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker loop started", "poll_interval", w.poll)
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker loop stopped")
			return err
		}

		job, err := w.queue.Claim(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("claim failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			logging.Trace("queue idle", "worker", w.id)
			w.sleep(ctx)
			continue
		}

		w.ProcessJob(ctx, job)
	}
}

// ProcessJob runs one claimed job to completion. Inference errors and panics
// are converted into a FAILED completion; completion errors are logged and
// dropped because the job will be visible as CLAIMED for an operator to
// inspect.
func (w *Worker) ProcessJob(ctx context.Context, job *datastore.InferenceJob) {
	started := time.Now()
	result, err := w.infer(ctx, job)
	if w.metrics != nil {
		w.metrics.Recognition.InferenceLatency.Observe(time.Since(started).Seconds())
		if job.ClaimedAt != nil {
			w.metrics.JobQueue.ClaimLatency.Observe(job.ClaimedAt.Sub(job.CreatedAt).Seconds())
		}
	}

	outcome := jobqueue.Outcome{Result: result, WorkerID: w.id, Err: err}
	completed, cerr := w.queue.Complete(ctx, job.ID, outcome)
	if cerr != nil {
		w.logger.Error("job completion failed", "job", job.ID, "error", cerr)
		return
	}

	if w.metrics != nil {
		w.metrics.JobQueue.JobsCompleted.WithLabelValues(completed.Status).Inc()
		w.metrics.Recognition.Decisions.WithLabelValues(completed.Decision).Inc()
		if result != nil {
			w.metrics.Recognition.InstancesPerRun.Observe(float64(len(result.Instances)))
			if result.BlockReason == "OVERLAP" {
				w.metrics.Recognition.OverlapBlocks.Inc()
			}
		}
	}

	if err != nil {
		w.logger.Warn("job failed", "job", job.ID, "error", err)
	} else {
		w.logger.Info("job done",
			"job", job.ID,
			"decision", completed.Decision,
			"overlap", result.OverlapScore)
	}

	if w.reporter != nil {
		w.reporter.ReportAsync(completed, result)
	}
}

// infer resolves the job's frame and runs the recognition pipeline.
func (w *Worker) infer(ctx context.Context, job *datastore.InferenceJob) (result *recognition.Result, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf("inference panic: %v", r).
				Component("worker").
				Category(errors.CategoryCapability).
				Context("job_id", job.ID).
				Timing("infer", time.Since(started)).
				Build()
		}
	}()

	frame, err := w.resolveFrame(ctx, job)
	if err != nil {
		return nil, err
	}
	return w.pipeline.Infer(ctx, frame), nil
}

// resolveFrame produces a decoded image from the job's frame reference.
func (w *Worker) resolveFrame(ctx context.Context, job *datastore.InferenceJob) (image.Image, error) {
	data := job.FrameData
	if len(data) == 0 {
		if w.fetcher == nil {
			return nil, errors.Newf("job %d references %q but no frame fetcher is configured", job.ID, job.FrameURI).
				Component("worker").
				Category(errors.CategoryConfiguration).
				Build()
		}
		fetched, err := w.fetcher.Fetch(ctx, job.FrameURI)
		if err != nil {
			return nil, fmt.Errorf("fetch frame %q: %w", job.FrameURI, err)
		}
		data = fetched
	}

	frame, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode frame: %w", err)).
			Component("worker").
			Category(errors.CategoryImageDecode).
			Context("job_id", job.ID).
			Build()
	}
	w.logger.Debug("frame decoded", "job", job.ID, "format", format)
	return frame, nil
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
