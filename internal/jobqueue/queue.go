// Package jobqueue implements the durable inference job mailbox between the
// kiosk-facing API and the recognition workers. Jobs move PENDING -> CLAIMED
// -> DONE|FAILED; every transition out of PENDING/CLAIMED is an atomic
// compare-and-swap so concurrent workers never double-claim and terminal jobs
// are never overwritten.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/recognition"
)

// Sentinel errors surfaced to API callers.
var (
	ErrSessionNotFound  = errors.NewStd("jobqueue: session not found")
	ErrSessionClosed    = errors.NewStd("jobqueue: session is not active")
	ErrAttemptLimit     = errors.NewStd("jobqueue: attempt limit exceeded")
	ErrDuplicateAttempt = errors.NewStd("jobqueue: attempt already submitted")
	ErrFrameRef         = errors.NewStd("jobqueue: exactly one of frame uri or frame bytes must be set")
	ErrJobNotFound      = errors.NewStd("jobqueue: job not found")
	ErrJobTerminal      = errors.NewStd("jobqueue: job already completed")
)

// FrameRef is the job payload: a reference to one captured frame, either
// inline bytes or a storage URI, never both and never neither.
type FrameRef struct {
	URI  string
	Data []byte
}

// Validate enforces the exactly-one rule at the boundary.
func (f FrameRef) Validate() error {
	hasURI := f.URI != ""
	hasData := len(f.Data) > 0
	if hasURI == hasData {
		return ErrFrameRef
	}
	return nil
}

// CreateParams describes one tray recognition job submission.
type CreateParams struct {
	SessionUUID string
	AttemptNo   int
	Frame       FrameRef
}

// Outcome is what a worker hands back when finishing a job. Err non-nil means
// the job is completed FAILED; the stored decision is still recorded so the
// kiosk always has an answer to show.
type Outcome struct {
	Result   *recognition.Result
	WorkerID string
	Err      error
}

// Service provides the job queue operations on top of the datastore.
type Service struct {
	store  datastore.Interface
	cfg    conf.SessionSettings
	logger *slog.Logger
}

// NewService creates a job queue service.
func NewService(store datastore.Interface, cfg conf.SessionSettings) *Service {
	logger := logging.ForService("jobqueue")
	if logger == nil {
		logger = slog.Default().With("service", "jobqueue")
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

// StartSession opens a new tray session for a checkout device.
func (s *Service) StartSession(ctx context.Context, storeCode, deviceCode string) (*datastore.TraySession, error) {
	_ = ctx
	session := &datastore.TraySession{
		SessionUUID:  uuid.NewString(),
		StoreCode:    storeCode,
		DeviceCode:   deviceCode,
		Status:       datastore.SessionActive,
		AttemptLimit: s.cfg.AttemptLimit,
		StartedAt:    time.Now(),
	}
	if err := s.store.CreateSession(session); err != nil {
		return nil, errors.New(err).
			Component("jobqueue").
			Category(errors.CategoryDatabase).
			Context("operation", "start_session").
			Build()
	}
	s.logger.Info("session started",
		"session", session.SessionUUID,
		"store", storeCode,
		"device", deviceCode)
	return session, nil
}

// CancelSession closes an active session without payment.
func (s *Service) CancelSession(ctx context.Context, sessionUUID string) error {
	_ = ctx
	session, err := s.store.GetSession(sessionUUID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.Status != datastore.SessionActive {
		return ErrSessionClosed
	}
	s.closeSession(session, datastore.SessionCancelled, "cancelled by device")
	return nil
}

// Create validates and stores a new PENDING tray job. Attempt numbers come
// from the submitting device and must be unique per session and within the
// session's attempt limit.
func (s *Service) Create(ctx context.Context, params CreateParams) (*datastore.InferenceJob, error) {
	_ = ctx
	if err := params.Frame.Validate(); err != nil {
		return nil, err
	}
	if params.AttemptNo < 1 {
		return nil, errors.Newf("attempt number must be positive, got %d", params.AttemptNo).
			Component("jobqueue").
			Category(errors.CategoryValidation).
			Build()
	}

	session, err := s.store.GetSession(params.SessionUUID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if s.expireIfTimedOut(session) {
		return nil, ErrSessionClosed
	}
	if session.Status != datastore.SessionActive {
		return nil, ErrSessionClosed
	}
	if params.AttemptNo > session.AttemptLimit {
		return nil, ErrAttemptLimit
	}

	count, err := s.store.CountJobsForAttempt(session.ID, params.AttemptNo)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateAttempt
	}

	job := &datastore.InferenceJob{
		JobType:    datastore.JobTypeTray,
		Status:     datastore.JobPending,
		StoreCode:  session.StoreCode,
		DeviceCode: session.DeviceCode,
		SessionID:  &session.ID,
		AttemptNo:  params.AttemptNo,
		FrameURI:   params.Frame.URI,
		FrameData:  params.Frame.Data,
	}
	if err := s.store.CreateJob(job); err != nil {
		// The unique (session, attempt) index backs the count check against
		// two concurrent submitters.
		if errors.Is(err, datastore.ErrConflict) {
			return nil, ErrDuplicateAttempt
		}
		return nil, err
	}

	s.logger.Info("job created",
		"job", job.ID,
		"session", session.SessionUUID,
		"attempt", params.AttemptNo)
	return job, nil
}

// Claim hands the oldest PENDING tray job to a worker, or (nil, nil) when the
// queue is idle. The PENDING -> CLAIMED transition is a conditional update so
// two workers racing on the same job see exactly one winner; the loser simply
// retries on the next oldest job.
func (s *Service) Claim(ctx context.Context, workerID string) (*datastore.InferenceJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		job, err := s.store.OldestPendingJob(datastore.JobTypeTray)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}

		now := time.Now()
		ok, err := s.store.UpdateJobCAS(job.ID,
			[]string{datastore.JobPending},
			map[string]any{
				"status":     datastore.JobClaimed,
				"worker_id":  workerID,
				"claimed_at": now,
			})
		if err != nil {
			return nil, err
		}
		if !ok {
			// Lost the race, another worker got there first.
			continue
		}

		job.Status = datastore.JobClaimed
		job.WorkerID = workerID
		job.ClaimedAt = &now
		s.logger.Debug("job claimed", "job", job.ID, "worker", workerID)
		return job, nil
	}
}

// Complete finishes a job with the worker's outcome. Legal only from PENDING
// or CLAIMED; a second completion returns ErrJobTerminal. DONE vs FAILED is
// decided by the presence of an error. On successful tray runs the
// recognition result is recorded as an audit run, a review row is opened for
// non-AUTO decisions, and an all-AUTO decision transitions the session to
// PAID.
func (s *Service) Complete(ctx context.Context, jobID uint, outcome Outcome) (*datastore.InferenceJob, error) {
	_ = ctx
	job, err := s.store.GetJob(jobID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.Terminal() {
		return nil, ErrJobTerminal
	}

	status := datastore.JobDone
	errText := ""
	decision := string(recognition.DecisionUnknown)
	resultJSON := ""
	var overlap *float64

	if outcome.Err != nil {
		status = datastore.JobFailed
		errText = outcome.Err.Error()
	}
	if outcome.Result != nil {
		decision = string(outcome.Result.Decision)
		overlap = &outcome.Result.OverlapScore
		if encoded, jerr := json.Marshal(outcome.Result); jerr == nil {
			resultJSON = string(encoded)
		}
	}

	now := time.Now()
	updates := map[string]any{
		"status":       status,
		"decision":     decision,
		"result_json":  resultJSON,
		"error":        errText,
		"completed_at": now,
	}
	if outcome.WorkerID != "" {
		updates["worker_id"] = outcome.WorkerID
	}
	if overlap != nil {
		updates["overlap_score"] = *overlap
	}

	ok, err := s.store.UpdateJobCAS(job.ID,
		[]string{datastore.JobPending, datastore.JobClaimed},
		updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobTerminal
	}

	// Session consequences belong to the completion that won the status
	// transition; a lost race must leave the session untouched.
	if status == datastore.JobDone && job.SessionID != nil && outcome.Result != nil {
		run, rerr := s.recordRun(job, outcome.Result)
		if rerr != nil {
			return nil, rerr
		}
		if _, uerr := s.store.UpdateJobCAS(job.ID,
			[]string{status}, map[string]any{"run_id": run.ID}); uerr != nil {
			return nil, uerr
		}
	}

	s.logger.Info("job completed",
		"job", job.ID,
		"status", status,
		"decision", decision)
	return s.store.GetJob(job.ID)
}

// recordRun persists the audit run for a completed tray job and applies the
// session-level consequences of its decision.
func (s *Service) recordRun(job *datastore.InferenceJob, result *recognition.Result) (*datastore.RecognitionRun, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	run := &datastore.RecognitionRun{
		SessionID:    *job.SessionID,
		AttemptNo:    job.AttemptNo,
		OverlapScore: &result.OverlapScore,
		Decision:     string(result.Decision),
		ResultJSON:   string(resultJSON),
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, err
	}

	switch {
	case result.Decision == recognition.DecisionAuto:
		s.markPaid(*job.SessionID)
	case result.BlockReason == "OVERLAP":
		// Overlap blocks prompt the shopper to re-place the tray; no human
		// review is queued for them.
	default:
		s.openReview(*job.SessionID, run, result)
	}
	return run, nil
}

// markPaid transitions the session to PAID on an all-AUTO decision.
func (s *Service) markPaid(sessionID uint) {
	session, err := s.sessionByID(sessionID)
	if err != nil {
		s.logger.Error("paid transition lookup failed", "session_id", sessionID, "error", err)
		return
	}
	if session.Status != datastore.SessionActive {
		return
	}
	s.closeSession(session, datastore.SessionPaid, "auto decision")
}

// openReview queues a human review unless the session already has one open.
func (s *Service) openReview(sessionID uint, run *datastore.RecognitionRun, result *recognition.Result) {
	if _, err := s.store.GetOpenReview(sessionID); err == nil {
		return // one OPEN review per session
	} else if !errors.Is(err, datastore.ErrNotFound) {
		s.logger.Error("open review lookup failed", "session_id", sessionID, "error", err)
		return
	}

	topKJSON, _ := json.Marshal(result.Instances)
	review := &datastore.Review{
		SessionID: sessionID,
		RunID:     run.ID,
		Status:    datastore.ReviewOpen,
		Reason:    string(result.Decision),
		TopKJSON:  string(topKJSON),
	}
	if err := s.store.CreateReview(review); err != nil {
		s.logger.Error("review creation failed", "session_id", sessionID, "error", err)
	}
}

// expireIfTimedOut closes a session that outlived its timeout. Returns true
// when the session was (or had been) expired.
func (s *Service) expireIfTimedOut(session *datastore.TraySession) bool {
	if session.Status != datastore.SessionActive {
		return session.Status == datastore.SessionTimeout
	}
	if s.cfg.Timeout <= 0 || time.Since(session.StartedAt) < s.cfg.Timeout {
		return false
	}
	s.closeSession(session, datastore.SessionTimeout, "session timeout")
	return true
}

func (s *Service) closeSession(session *datastore.TraySession, status, reason string) {
	now := time.Now()
	session.Status = status
	session.EndedAt = &now
	session.EndReason = reason
	if err := s.store.UpdateSession(session); err != nil {
		s.logger.Error("session close failed",
			"session", session.SessionUUID,
			"status", status,
			"error", err)
		return
	}
	s.logger.Info("session closed", "session", session.SessionUUID, "status", status)
}

// sessionByID loads a session through its UUID-free primary key. The
// datastore interface is UUID-keyed for the API surface, so this goes through
// the job's stored foreign key.
func (s *Service) sessionByID(id uint) (*datastore.TraySession, error) {
	return s.store.GetSessionByID(id)
}
