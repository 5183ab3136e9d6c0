// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/errors"
)

// Sentinel errors returned by store operations. Callers match these with
// errors.Is and map them to their own error kinds.
var (
	ErrNotFound = errors.NewStd("datastore: record not found")
	ErrConflict = errors.NewStd("datastore: conflicting record exists")
)

// Interface abstracts the underlying database implementation and defines the
// operations the job queue, catalog and event sink need.
type Interface interface {
	Open() error
	Close() error

	// Tray sessions
	CreateSession(session *TraySession) error
	GetSession(sessionUUID string) (*TraySession, error)
	GetSessionByID(id uint) (*TraySession, error)
	UpdateSession(session *TraySession) error
	LatestAttemptNo(sessionID uint) (int, error)

	// Inference jobs
	CreateJob(job *InferenceJob) error
	GetJob(id uint) (*InferenceJob, error)
	CountJobsForAttempt(sessionID uint, attemptNo int) (int64, error)
	OldestPendingJob(jobType string) (*InferenceJob, error)
	// UpdateJobCAS applies the non-zero updates to the job only if its
	// current status is one of fromStatuses. Returns false when the row
	// was not in any of the expected states (lost race or terminal).
	UpdateJobCAS(jobID uint, fromStatuses []string, updates map[string]any) (bool, error)

	// Recognition runs and reviews
	CreateRun(run *RecognitionRun) error
	GetOpenReview(sessionID uint) (*Review, error)
	CreateReview(review *Review) error

	// Prototype catalog
	CreatePrototypeSet(set *PrototypeSet) error
	AddPrototypes(prototypes []Prototype) error
	ActivatePrototypeSet(setID uint) error
	ActivePrototypeSet() (*PrototypeSet, []Prototype, error)
	ListPrototypeSets() ([]PrototypeSet, error)

	// CCTV events
	SaveCCTVEvent(event *CCTVEvent) error
	ListCCTVEvents(limit int) ([]CCTVEvent, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// createGormLogger returns a GORM logger that only surfaces slow queries and
// errors through the standard logger.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// performAutoMigration runs GORM auto-migration for all trayvision tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&TraySession{},
		&RecognitionRun{},
		&Review{},
		&InferenceJob{},
		&PrototypeSet{},
		&Prototype{},
		&CCTVEvent{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}
	return nil
}

func dbErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}

// --- Tray sessions ---

func (ds *DataStore) CreateSession(session *TraySession) error {
	if err := ds.DB.Create(session).Error; err != nil {
		return dbErr("create session", err)
	}
	return nil
}

func (ds *DataStore) GetSession(sessionUUID string) (*TraySession, error) {
	var session TraySession
	if err := ds.DB.Where("session_uuid = ?", sessionUUID).First(&session).Error; err != nil {
		return nil, dbErr("get session", err)
	}
	return &session, nil
}

func (ds *DataStore) GetSessionByID(id uint) (*TraySession, error) {
	var session TraySession
	if err := ds.DB.First(&session, id).Error; err != nil {
		return nil, dbErr("get session", err)
	}
	return &session, nil
}

func (ds *DataStore) UpdateSession(session *TraySession) error {
	if err := ds.DB.Save(session).Error; err != nil {
		return dbErr("update session", err)
	}
	return nil
}

// LatestAttemptNo returns the highest recorded attempt number for the
// session, 0 when no runs exist yet.
func (ds *DataStore) LatestAttemptNo(sessionID uint) (int, error) {
	var run RecognitionRun
	err := ds.DB.Where("session_id = ?", sessionID).
		Order("attempt_no DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, dbErr("latest attempt", err)
	}
	return run.AttemptNo, nil
}

// --- Inference jobs ---

func (ds *DataStore) CreateJob(job *InferenceJob) error {
	if err := ds.DB.Create(job).Error; err != nil {
		return dbErr("create job", err)
	}
	return nil
}

func (ds *DataStore) GetJob(id uint) (*InferenceJob, error) {
	var job InferenceJob
	if err := ds.DB.First(&job, id).Error; err != nil {
		return nil, dbErr("get job", err)
	}
	return &job, nil
}

func (ds *DataStore) CountJobsForAttempt(sessionID uint, attemptNo int) (int64, error) {
	var count int64
	err := ds.DB.Model(&InferenceJob{}).
		Where("session_id = ? AND attempt_no = ?", sessionID, attemptNo).
		Count(&count).Error
	if err != nil {
		return 0, dbErr("count jobs", err)
	}
	return count, nil
}

// OldestPendingJob returns the PENDING job with the earliest creation time,
// or nil when the queue is idle.
func (ds *DataStore) OldestPendingJob(jobType string) (*InferenceJob, error) {
	var job InferenceJob
	query := ds.DB.Where("status = ?", JobPending)
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	err := query.Order("created_at ASC, id ASC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("oldest pending job", err)
	}
	return &job, nil
}

// UpdateJobCAS performs an atomic conditional update so two workers can never
// claim the same job and a terminal job can never be overwritten.
func (ds *DataStore) UpdateJobCAS(jobID uint, fromStatuses []string, updates map[string]any) (bool, error) {
	result := ds.DB.Model(&InferenceJob{}).
		Where("id = ? AND status IN ?", jobID, fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, dbErr("job state transition", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// --- Recognition runs and reviews ---

func (ds *DataStore) CreateRun(run *RecognitionRun) error {
	if err := ds.DB.Create(run).Error; err != nil {
		return dbErr("create run", err)
	}
	return nil
}

func (ds *DataStore) GetOpenReview(sessionID uint) (*Review, error) {
	var review Review
	err := ds.DB.Where("session_id = ? AND status = ?", sessionID, ReviewOpen).
		First(&review).Error
	if err != nil {
		return nil, dbErr("get open review", err)
	}
	return &review, nil
}

func (ds *DataStore) CreateReview(review *Review) error {
	if err := ds.DB.Create(review).Error; err != nil {
		return dbErr("create review", err)
	}
	return nil
}

// --- Prototype catalog ---

func (ds *DataStore) CreatePrototypeSet(set *PrototypeSet) error {
	if err := ds.DB.Create(set).Error; err != nil {
		return dbErr("create prototype set", err)
	}
	return nil
}

func (ds *DataStore) AddPrototypes(prototypes []Prototype) error {
	if len(prototypes) == 0 {
		return nil
	}
	if err := ds.DB.Create(&prototypes).Error; err != nil {
		return dbErr("add prototypes", err)
	}
	return nil
}

// ActivatePrototypeSet marks the given set ACTIVE and all others INACTIVE in
// a single transaction, preserving the exactly-one-active invariant.
func (ds *DataStore) ActivatePrototypeSet(setID uint) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var set PrototypeSet
		if err := tx.First(&set, setID).Error; err != nil {
			return err
		}
		if err := tx.Model(&PrototypeSet{}).
			Where("1 = 1").
			Update("status", PrototypeSetInactive).Error; err != nil {
			return err
		}
		return tx.Model(&PrototypeSet{}).
			Where("id = ?", setID).
			Update("status", PrototypeSetActive).Error
	})
	if err != nil {
		return dbErr("activate prototype set", err)
	}
	return nil
}

// ActivePrototypeSet returns the single ACTIVE set and its prototypes.
func (ds *DataStore) ActivePrototypeSet() (*PrototypeSet, []Prototype, error) {
	var set PrototypeSet
	if err := ds.DB.Where("status = ?", PrototypeSetActive).First(&set).Error; err != nil {
		return nil, nil, dbErr("active prototype set", err)
	}
	var prototypes []Prototype
	if err := ds.DB.Where("set_id = ?", set.ID).Order("id ASC").Find(&prototypes).Error; err != nil {
		return nil, nil, dbErr("active prototypes", err)
	}
	return &set, prototypes, nil
}

func (ds *DataStore) ListPrototypeSets() ([]PrototypeSet, error) {
	var sets []PrototypeSet
	if err := ds.DB.Order("id DESC").Find(&sets).Error; err != nil {
		return nil, dbErr("list prototype sets", err)
	}
	return sets, nil
}

// --- CCTV events ---

func (ds *DataStore) SaveCCTVEvent(event *CCTVEvent) error {
	if err := ds.DB.Create(event).Error; err != nil {
		return dbErr("save cctv event", err)
	}
	return nil
}

func (ds *DataStore) ListCCTVEvents(limit int) ([]CCTVEvent, error) {
	var events []CCTVEvent
	if err := ds.DB.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, dbErr("list cctv events", err)
	}
	return events, nil
}
