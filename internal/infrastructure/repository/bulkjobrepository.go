package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/finrelay/finrelay/internal/application/bulk"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

// BulkJobModel is the GORM model for the sync_jobs audit table. One row is
// written per submitted bulk job and updated when the job finishes.
type BulkJobModel struct {
	ID               uint       `gorm:"primaryKey;autoIncrement"`
	JobID            string     `gorm:"column:job_id;type:varchar(50);not null;uniqueIndex"`
	BatchType        string     `gorm:"column:batch_type;type:varchar(50);not null;index"`
	WindowID         int64      `gorm:"column:window_id;not null"`
	Object           string     `gorm:"column:object;type:varchar(100);not null"`
	Operation        string     `gorm:"column:operation;type:varchar(20);not null"`
	RecordCount      int        `gorm:"column:record_count;not null"`
	ProcessedRecords int        `gorm:"column:processed_records;default:0"`
	FailedRecords    int        `gorm:"column:failed_records;default:0"`
	State            string     `gorm:"column:state;type:varchar(30);not null;index"`
	ErrorMessage     string     `gorm:"column:error_message;type:text"`
	SubmittedAt      time.Time  `gorm:"column:submitted_at;not null"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for GORM
func (BulkJobModel) TableName() string {
	return "sync_jobs"
}

// BulkJobRepository persists the bulk job audit log.
type BulkJobRepository struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewBulkJobRepository(db *gorm.DB, logger logger.Interface) *BulkJobRepository {
	return &BulkJobRepository{db: db, logger: logger}
}

// Ensure BulkJobRepository implements the processor's audit port
var _ bulk.AuditRecorder = (*BulkJobRepository)(nil)

// RecordJob writes one audit row for a finished bulk job.
func (r *BulkJobRepository) RecordJob(ctx context.Context, audit bulk.JobAudit) error {
	completedAt := audit.CompletedAt
	model := &BulkJobModel{
		JobID:            audit.JobID,
		BatchType:        audit.BatchType,
		WindowID:         audit.WindowID,
		Object:           audit.Object,
		Operation:        audit.Operation,
		RecordCount:      audit.RecordCount,
		ProcessedRecords: audit.ProcessedRecords,
		FailedRecords:    audit.FailedRecords,
		State:            audit.State,
		ErrorMessage:     audit.ErrorMessage,
		SubmittedAt:      audit.SubmittedAt,
		CompletedAt:      &completedAt,
	}
	return r.Create(ctx, model)
}

// Create records a newly submitted job.
func (r *BulkJobRepository) Create(ctx context.Context, job *BulkJobModel) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return err
	}
	return nil
}

// GetByJobID retrieves one audit row.
func (r *BulkJobRepository) GetByJobID(ctx context.Context, jobID string) (*BulkJobModel, error) {
	var model BulkJobModel
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&model).Error; err != nil {
		return nil, err
	}
	return &model, nil
}

// ListRecent returns the most recently submitted jobs, newest first.
func (r *BulkJobRepository) ListRecent(ctx context.Context, limit int) ([]BulkJobModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []BulkJobModel
	if err := r.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}
