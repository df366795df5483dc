package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

// SQLiteStore implements ports.RecordStore using GORM and SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

// RecordModel is the GORM model for enriched records. List-valued fields
// are JSON encoded into text columns.
type RecordModel struct {
	Fingerprint      string `gorm:"primaryKey"`
	CVEID            string `gorm:"index"`
	Sources          string // JSON encoded []string
	PrimarySource    string
	Reliability      float64
	Confidence       float64
	ValidationStatus string
	Description      string
	Severity         string `gorm:"index"`
	Score            float64
	Vector           string
	Published        time.Time
	Modified         time.Time
	References       string // JSON encoded []string
	Weaknesses       string // JSON encoded []string
	Products         string // JSON encoded []string
	EnrichmentLevel  string
	Conflicts        string // JSON encoded []domain.FieldConflict
	LabScore         float64
	DiscoveredAt     time.Time
	UpdatedAt        time.Time
}

// NewSQLiteStore initializes the database and migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&RecordModel{}); err != nil {
		return nil, err
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_records_score ON record_models(score)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_records_lab_score ON record_models(lab_score)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_records_discovered_at ON record_models(discovered_at)")

	return &SQLiteStore{db: db}, nil
}

// UpsertRecords merges a batch of records into the store by fingerprint.
// For existing rows the newer record wins scalar fields, array fields are
// unioned and scores keep their maximum. This cross-run policy is simpler
// than cross-source reconciliation on purpose: the hard decisions were
// already made upstream.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []domain.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			var existing RecordModel
			err := tx.Where("fingerprint = ?", rec.Fingerprint).First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				model := toModel(rec)
				model.UpdatedAt = time.Now()
				if err := tx.Create(&model).Error; err != nil {
					return fmt.Errorf("create %s: %w", rec.Fingerprint, err)
				}
			case err != nil:
				return err
			default:
				merged := mergeRecords(toDomain(existing), rec)
				model := toModel(merged)
				model.UpdatedAt = time.Now()
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
					return fmt.Errorf("update %s: %w", rec.Fingerprint, err)
				}
			}
		}
		return nil
	})
}

// GetRecord returns one record by fingerprint, nil when absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, fingerprint string) (*domain.EnrichedRecord, error) {
	var model RecordModel
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := toDomain(model)
	return &rec, nil
}

// GetRecords returns stored records matching the filter, newest first.
func (s *SQLiteStore) GetRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.EnrichedRecord, error) {
	q := s.db.WithContext(ctx).Model(&RecordModel{}).Order("discovered_at DESC")

	if filter.Severity != "" {
		q = q.Where("severity = ?", domain.NormalizeSeverity(filter.Severity))
	}
	if filter.MinScore > 0 {
		q = q.Where("score >= ?", filter.MinScore)
	}
	if filter.MinLab > 0 {
		q = q.Where("lab_score >= ?", filter.MinLab)
	}
	if filter.Source != "" {
		q = q.Where("sources LIKE ?", "%\""+filter.Source+"\"%")
	}
	if filter.Search != "" {
		term := "%" + filter.Search + "%"
		q = q.Where("description LIKE ? OR cve_id LIKE ?", term, term)
	}
	if filter.SinceDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -filter.SinceDays)
		q = q.Where("discovered_at >= ?", cutoff)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []RecordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]domain.EnrichedRecord, len(models))
	for i, m := range models {
		records[i] = toDomain(m)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RecordModel{}).Count(&n).Error
	return n, err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.RecordStore = (*SQLiteStore)(nil)
