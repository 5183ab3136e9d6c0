// model.go defines the persistent data model: tray sessions, recognition
// runs, review queue entries, inference jobs, prototype sets and CCTV events.
package datastore

import "time"

// Tray session status values.
const (
	SessionActive    = "ACTIVE"
	SessionPaid      = "PAID"
	SessionCancelled = "CANCELLED"
	SessionTimeout   = "TIMEOUT"
)

// Job status values. PENDING -> CLAIMED -> DONE|FAILED, terminal states are
// never left.
const (
	JobPending = "PENDING"
	JobClaimed = "CLAIMED"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// Job types.
const (
	JobTypeTray = "TRAY"
	JobTypeCCTV = "CCTV"
)

// Review status values.
const (
	ReviewOpen     = "OPEN"
	ReviewResolved = "RESOLVED"
)

// Prototype set status values. At most one set is ACTIVE at a time.
const (
	PrototypeSetActive   = "ACTIVE"
	PrototypeSetInactive = "INACTIVE"
)

// CCTV event status values.
const (
	EventOpen         = "OPEN"
	EventAcknowledged = "ACKNOWLEDGED"
)

// TraySession represents one tray presented at a checkout device.
type TraySession struct {
	ID           uint   `gorm:"primaryKey"`
	SessionUUID  string `gorm:"uniqueIndex;not null"`
	StoreCode    string `gorm:"index:idx_session_store_status"`
	DeviceCode   string
	Status       string `gorm:"index:idx_session_store_status;not null"`
	AttemptLimit int    `gorm:"not null"`
	StartedAt    time.Time
	EndedAt      *time.Time
	EndReason    string
	CreatedAt    time.Time
}

// RecognitionRun is one recognition attempt for a session, kept for audit.
// A session never records the same attempt number twice.
type RecognitionRun struct {
	ID           uint `gorm:"primaryKey"`
	SessionID    uint `gorm:"uniqueIndex:uq_run_session_attempt;index:idx_run_session_created"`
	AttemptNo    int  `gorm:"uniqueIndex:uq_run_session_attempt;not null"`
	OverlapScore *float64
	Decision     string    `gorm:"not null"`
	ResultJSON   string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index:idx_run_session_created"`
}

// Review is a human review queue entry. At most one OPEN review exists per
// session.
type Review struct {
	ID                 uint `gorm:"primaryKey"`
	SessionID          uint `gorm:"index"`
	RunID              uint
	Status             string `gorm:"index;not null"`
	Reason             string // decision that triggered the review, REVIEW or UNKNOWN
	TopKJSON           string `gorm:"type:text"`
	ConfirmedItemsJSON string `gorm:"type:text"`
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// InferenceJob is the durable mailbox entry decoupling submitters from the
// recognition worker. The payload is a frame reference, never raw image rows
// duplicated per state transition.
type InferenceJob struct {
	ID         uint   `gorm:"primaryKey"`
	JobType    string `gorm:"not null"`
	Status     string `gorm:"index:idx_job_status_created;not null"`
	StoreCode  string
	DeviceCode string

	// TRAY jobs only. The unique index enforces at most one job per
	// (session, attempt).
	SessionID *uint `gorm:"uniqueIndex:uq_job_session_attempt;index"`
	AttemptNo int   `gorm:"uniqueIndex:uq_job_session_attempt"`

	// Frame reference: exactly one of FrameURI / FrameData is set,
	// enforced at the boundary before rows are created.
	FrameURI  string `gorm:"type:varchar(512)"`
	FrameData []byte `gorm:"type:blob"`

	Decision     string
	RunID        *uint
	ResultJSON   string `gorm:"type:text"`
	Error        string `gorm:"type:varchar(512)"`
	OverlapScore *float64

	WorkerID    string    `gorm:"type:varchar(64)"`
	CreatedAt   time.Time `gorm:"index:idx_job_status_created"`
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the job has reached a terminal state.
func (j *InferenceJob) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// PrototypeSet groups the catalog reference embeddings built in one batch.
type PrototypeSet struct {
	ID        uint   `gorm:"primaryKey"`
	Status    string `gorm:"index;not null"`
	Notes     string
	CreatedAt time.Time
}

// Prototype is a single catalog item embedding belonging to a set.
type Prototype struct {
	ID            uint   `gorm:"primaryKey"`
	SetID         uint   `gorm:"index;not null"`
	ItemID        int    `gorm:"not null"`
	EmbeddingJSON string `gorm:"type:text;not null"` // JSON-encoded []float32
	CreatedAt     time.Time
}

// CCTVEvent is a confirmed safety/security event produced by the event
// detector pipeline. Immutable once created, except for acknowledgement.
type CCTVEvent struct {
	ID         uint   `gorm:"primaryKey"`
	StoreCode  string `gorm:"index"`
	DeviceCode string
	EventType  string  `gorm:"index:idx_event_type_status;not null"`
	Confidence float64 `gorm:"not null"`
	Status     string  `gorm:"index:idx_event_type_status;not null"`
	StartedAt  time.Time
	EndedAt    time.Time
	ClipURI    string `gorm:"type:varchar(512)"`
	MetaJSON   string `gorm:"type:text"`
	CreatedAt  time.Time
}
