package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/jobqueue"
	"github.com/trayvision/trayvision-go/internal/recognition"
)

// --- Session handlers ---

type startSessionRequest struct {
	StoreCode  string `json:"store_code"`
	DeviceCode string `json:"device_code"`
}

type sessionResponse struct {
	SessionUUID   string     `json:"session_uuid"`
	StoreCode     string     `json:"store_code"`
	DeviceCode    string     `json:"device_code"`
	Status        string     `json:"status"`
	AttemptLimit  int        `json:"attempt_limit"`
	LastAttemptNo int        `json:"last_attempt_no"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
}

func toSessionResponse(s *datastore.TraySession) sessionResponse {
	return sessionResponse{
		SessionUUID:  s.SessionUUID,
		StoreCode:    s.StoreCode,
		DeviceCode:   s.DeviceCode,
		Status:       s.Status,
		AttemptLimit: s.AttemptLimit,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		EndReason:    s.EndReason,
	}
}

// StartSession opens a tray session.
func (c *Controller) StartSession(ctx echo.Context) error {
	var req startSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StoreCode == "" || req.DeviceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "store_code and device_code are required")
	}

	session, err := c.Queue.StartSession(ctx.Request().Context(), req.StoreCode, req.DeviceCode)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, toSessionResponse(session))
}

// GetSession returns the session state with its latest recorded attempt.
func (c *Controller) GetSession(ctx echo.Context) error {
	session, err := c.DS.GetSession(ctx.Param("uuid"))
	if err != nil {
		return err
	}
	resp := toSessionResponse(session)
	latest, err := c.DS.LatestAttemptNo(session.ID)
	if err != nil {
		return err
	}
	resp.LastAttemptNo = latest
	return ctx.JSON(http.StatusOK, resp)
}

// CancelSession closes an active session without payment.
func (c *Controller) CancelSession(ctx echo.Context) error {
	if err := c.Queue.CancelSession(ctx.Request().Context(), ctx.Param("uuid")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- Job handlers ---

type createJobRequest struct {
	SessionUUID string `json:"session_uuid"`
	AttemptNo   int    `json:"attempt_no"`
	FrameURI    string `json:"frame_uri,omitempty"`
	FrameB64    string `json:"frame_b64,omitempty"`
}

type jobResponse struct {
	JobID       uint                    `json:"job_id"`
	JobType     string                  `json:"job_type"`
	Status      string                  `json:"status"`
	AttemptNo   int                     `json:"attempt_no"`
	Decision    string                  `json:"decision,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Result      *recognition.Result     `json:"result,omitempty"`
	FrameURI    string                  `json:"frame_uri,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

func toJobResponse(job *datastore.InferenceJob) jobResponse {
	resp := jobResponse{
		JobID:       job.ID,
		JobType:     job.JobType,
		Status:      job.Status,
		AttemptNo:   job.AttemptNo,
		Decision:    job.Decision,
		Error:       job.Error,
		FrameURI:    job.FrameURI,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.ResultJSON != "" {
		var result recognition.Result
		if err := json.Unmarshal([]byte(job.ResultJSON), &result); err == nil {
			resp.Result = &result
		}
	}
	return resp
}

// CreateJob submits one recognition attempt.
func (c *Controller) CreateJob(ctx echo.Context) error {
	var req createJobRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	frame := jobqueue.FrameRef{URI: req.FrameURI}
	if req.FrameB64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.FrameB64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "frame_b64 is not valid base64")
		}
		frame.Data = data
	}

	job, err := c.Queue.Create(ctx.Request().Context(), jobqueue.CreateParams{
		SessionUUID: req.SessionUUID,
		AttemptNo:   req.AttemptNo,
		Frame:       frame,
	})
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.JobQueue.JobsCreated.WithLabelValues(job.JobType).Inc()
	}
	return ctx.JSON(http.StatusCreated, toJobResponse(job))
}

// GetJob returns the job state. Terminal jobs are served from cache since
// their rows never change again.
func (c *Controller) GetJob(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	cacheKey := "job:" + ctx.Param("id")
	if cached, found := c.jobCache.Get(cacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	job, err := c.DS.GetJob(uint(id))
	if err != nil {
		return err
	}
	resp := toJobResponse(job)
	if job.Terminal() {
		c.jobCache.SetDefault(cacheKey, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// --- Worker handlers ---

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

type claimResponse struct {
	Job      *jobResponse `json:"job"`
	FrameB64 string       `json:"frame_b64,omitempty"`
}

// ClaimJob hands the oldest pending job to a remote worker. Responds 204
// when the queue is idle.
func (c *Controller) ClaimJob(ctx echo.Context) error {
	var req claimRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "worker_id is required")
	}

	job, err := c.Queue.Claim(ctx.Request().Context(), req.WorkerID)
	if err != nil {
		return err
	}
	if job == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	resp := toJobResponse(job)
	out := claimResponse{Job: &resp}
	if len(job.FrameData) > 0 {
		out.FrameB64 = base64.StdEncoding.EncodeToString(job.FrameData)
	}
	return ctx.JSON(http.StatusOK, out)
}

type completeRequest struct {
	WorkerID string              `json:"worker_id"`
	Error    string              `json:"error,omitempty"`
	Result   *recognition.Result `json:"result,omitempty"`
}

// CompleteJob finishes a claimed job with the worker's result.
func (c *Controller) CompleteJob(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	var req completeRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	outcome := jobqueue.Outcome{Result: req.Result, WorkerID: req.WorkerID}
	if req.Error != "" {
		outcome.Err = errors.NewStd(req.Error)
	}

	job, err := c.Queue.Complete(ctx.Request().Context(), uint(id), outcome)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.JobQueue.JobsCompleted.WithLabelValues(job.Status).Inc()
	}
	return ctx.JSON(http.StatusOK, toJobResponse(job))
}
