package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/errors"
)

// newTestStore opens an in-memory SQLite store with migrations applied.
func newTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: ":memory:"}
	store := New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestSession(t *testing.T, store Interface) *TraySession {
	t.Helper()
	session := &TraySession{
		SessionUUID:  "sess-" + t.Name(),
		StoreCode:    "S001",
		DeviceCode:   "KIOSK-1",
		Status:       SessionActive,
		AttemptLimit: 3,
		StartedAt:    time.Now(),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateSession(session))
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	session := newTestSession(t, store)

	got, err := store.GetSession(session.SessionUUID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)
	assert.Equal(t, 3, got.AttemptLimit)

	got.Status = SessionPaid
	require.NoError(t, store.UpdateSession(got))

	again, err := store.GetSession(session.SessionUUID)
	require.NoError(t, err)
	assert.Equal(t, SessionPaid, again.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession("no-such-session")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLatestAttemptNo(t *testing.T) {
	store := newTestStore(t)
	session := newTestSession(t, store)

	n, err := store.LatestAttemptNo(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no runs yet")

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, store.CreateRun(&RecognitionRun{
			SessionID: session.ID,
			AttemptNo: attempt,
			Decision:  "REVIEW",
			CreatedAt: time.Now(),
		}))
	}

	n, err = store.LatestAttemptNo(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDuplicateRunRejected(t *testing.T) {
	store := newTestStore(t)
	session := newTestSession(t, store)

	run := &RecognitionRun{SessionID: session.ID, AttemptNo: 1, Decision: "AUTO", CreatedAt: time.Now()}
	require.NoError(t, store.CreateRun(run))

	dup := &RecognitionRun{SessionID: session.ID, AttemptNo: 1, Decision: "AUTO", CreatedAt: time.Now()}
	assert.Error(t, store.CreateRun(dup), "unique index on (session, attempt) must reject")
}

func TestJobClaimCAS(t *testing.T) {
	store := newTestStore(t)
	session := newTestSession(t, store)

	job := &InferenceJob{
		JobType:   JobTypeTray,
		Status:    JobPending,
		SessionID: &session.ID,
		AttemptNo: 1,
		FrameURI:  "gs://frames/tray-1.jpg",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateJob(job))

	now := time.Now()
	ok, err := store.UpdateJobCAS(job.ID, []string{JobPending}, map[string]any{
		"status":     JobClaimed,
		"worker_id":  "worker-a",
		"claimed_at": &now,
	})
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	// Second claimant must lose the race.
	ok, err = store.UpdateJobCAS(job.ID, []string{JobPending}, map[string]any{
		"status":    JobClaimed,
		"worker_id": "worker-b",
	})
	require.NoError(t, err)
	assert.False(t, ok, "claimed job cannot be claimed again")

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", got.WorkerID)
	assert.Equal(t, JobClaimed, got.Status)
}

func TestOldestPendingJobFIFO(t *testing.T) {
	store := newTestStore(t)
	session := newTestSession(t, store)

	base := time.Now().Add(-time.Minute)
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.CreateJob(&InferenceJob{
			JobType:   JobTypeTray,
			Status:    JobPending,
			SessionID: &session.ID,
			AttemptNo: i,
			FrameURI:  "gs://frames/x.jpg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	job, err := store.OldestPendingJob(JobTypeTray)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.AttemptNo, "oldest creation time first")
}

func TestOldestPendingJobEmptyQueue(t *testing.T) {
	store := newTestStore(t)

	job, err := store.OldestPendingJob(JobTypeTray)
	require.NoError(t, err)
	assert.Nil(t, job, "idle queue returns nil, not an error")
}

func TestActivatePrototypeSetInvariant(t *testing.T) {
	store := newTestStore(t)

	first := &PrototypeSet{Status: PrototypeSetActive, CreatedAt: time.Now()}
	second := &PrototypeSet{Status: PrototypeSetInactive, CreatedAt: time.Now()}
	require.NoError(t, store.CreatePrototypeSet(first))
	require.NoError(t, store.CreatePrototypeSet(second))

	require.NoError(t, store.AddPrototypes([]Prototype{
		{SetID: second.ID, ItemID: 101, EmbeddingJSON: "[1,0,0]", CreatedAt: time.Now()},
		{SetID: second.ID, ItemID: 205, EmbeddingJSON: "[0,1,0]", CreatedAt: time.Now()},
	}))

	require.NoError(t, store.ActivatePrototypeSet(second.ID))

	set, prototypes, err := store.ActivePrototypeSet()
	require.NoError(t, err)
	assert.Equal(t, second.ID, set.ID)
	assert.Len(t, prototypes, 2)

	sets, err := store.ListPrototypeSets()
	require.NoError(t, err)
	activeCount := 0
	for i := range sets {
		if sets[i].Status == PrototypeSetActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one ACTIVE set")
}

func TestCCTVEventRoundTrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	require.NoError(t, store.SaveCCTVEvent(&CCTVEvent{
		StoreCode:  "S001",
		DeviceCode: "CCTV-1",
		EventType:  "FALL",
		Confidence: 0.88,
		Status:     EventOpen,
		StartedAt:  now.Add(-2 * time.Second),
		EndedAt:    now,
		CreatedAt:  now,
	}))

	events, err := store.ListCCTVEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "FALL", events[0].EventType)
	assert.Equal(t, EventOpen, events[0].Status)
}
