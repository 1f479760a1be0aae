package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/id-verify/internal/verdict"
)

// ErrRecordNotFound is returned when no record exists for a task identifier,
// as opposed to the database being unreachable.
var ErrRecordNotFound = errors.New("verification record not found")

// VerificationRecord is a persisted completed verification verdict.
type VerificationRecord struct {
	ID           uint      `gorm:"primaryKey"`
	TaskID       string    `gorm:"column:task_id;uniqueIndex;size:64"`
	IsValid      bool      `gorm:"column:is_valid"`
	ErrMsg       string    `gorm:"column:err_msg;type:text"`
	CardScore    float64   `gorm:"column:card_score"`
	PersonScore  float64   `gorm:"column:person_score"`
	Verdict      string    `gorm:"column:verdict;type:text"`
	ProcessingMs int64     `gorm:"column:processing_ms"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// DecodeVerdict rebuilds the aggregated verdict from the stored JSON.
func (r *VerificationRecord) DecodeVerdict() (*verdict.Result, error) {
	var out verdict.Result
	if err := json.Unmarshal([]byte(r.Verdict), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MetricsAggregation is the raw aggregation used by the metrics summary.
type MetricsAggregation struct {
	TotalCount                 int64
	ValidCount                 int64
	AverageCardScore           float64
	AveragePersonScore         float64
	AverageProcessingLatencyMs float64
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{db: db, logger: logger.Named("verification_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// SaveRecord persists a completed verification verdict.
func (r *VerificationRepository) SaveRecord(ctx context.Context, rec *VerificationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByTaskID retrieves the record for a task identifier.
func (r *VerificationRepository) FindByTaskID(ctx context.Context, taskID string) (*VerificationRecord, error) {
	var rec VerificationRecord
	if err := r.db.WithContext(ctx).First(&rec, "task_id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// AggregateMetrics computes summary statistics over all records.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var out MetricsAggregation
	row := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select(
			"COUNT(*) AS total_count",
			"COALESCE(SUM(CASE WHEN is_valid THEN 1 ELSE 0 END), 0) AS valid_count",
			"COALESCE(AVG(card_score), 0) AS average_card_score",
			"COALESCE(AVG(person_score), 0) AS average_person_score",
			"COALESCE(AVG(processing_ms), 0) AS average_processing_latency_ms",
		).
		Row()
	if err := row.Scan(
		&out.TotalCount,
		&out.ValidCount,
		&out.AverageCardScore,
		&out.AveragePersonScore,
		&out.AverageProcessingLatencyMs,
	); err != nil {
		return nil, err
	}
	return &out, nil
}
