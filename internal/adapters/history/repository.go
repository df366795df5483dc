package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRepository implements ports.ReliabilityStore using SQLite.
// Performance samples and computed metrics survive restarts so reliability
// scores do not reset to their priors on every boot.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the history database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// SaveSample appends one performance observation.
func (r *SQLiteRepository) SaveSample(ctx context.Context, sample domain.PerformanceSample) error {
	query := `
		INSERT INTO performance_samples
			(source, timestamp, latency_ns, success, record_count, conflicts, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		sample.Source, sample.Timestamp, int64(sample.Latency), boolToInt(sample.Success),
		sample.RecordCount, sample.Conflicts, sample.Duplicates)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}
	return nil
}

// RecentSamples returns the newest samples for one source, newest first.
func (r *SQLiteRepository) RecentSamples(ctx context.Context, source string, limit int) ([]domain.PerformanceSample, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT source, timestamp, latency_ns, success, record_count, conflicts, duplicates
		FROM performance_samples
		WHERE source = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var samples []domain.PerformanceSample
	for rows.Next() {
		var s domain.PerformanceSample
		var latency int64
		var success int
		if err := rows.Scan(&s.Source, &s.Timestamp, &latency, &success,
			&s.RecordCount, &s.Conflicts, &s.Duplicates); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		s.Latency = time.Duration(latency)
		s.Success = success != 0
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// SaveMetrics upserts the computed metrics for one source.
func (r *SQLiteRepository) SaveMetrics(ctx context.Context, metrics domain.ReliabilityMetrics) error {
	subScores, err := json.Marshal(metrics.SubScores)
	if err != nil {
		return fmt.Errorf("failed to encode sub-scores: %w", err)
	}

	query := `
		INSERT INTO reliability_metrics
			(source, base_score, dynamic_score, final_score, sample_count, sub_scores, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			base_score = excluded.base_score,
			dynamic_score = excluded.dynamic_score,
			final_score = excluded.final_score,
			sample_count = excluded.sample_count,
			sub_scores = excluded.sub_scores,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		metrics.Source, metrics.BaseScore, metrics.DynamicScore, metrics.FinalScore,
		metrics.SampleCount, string(subScores), metrics.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// LoadMetrics returns the stored metrics for every source.
func (r *SQLiteRepository) LoadMetrics(ctx context.Context) ([]domain.ReliabilityMetrics, error) {
	query := `
		SELECT source, base_score, dynamic_score, final_score, sample_count, sub_scores, updated_at
		FROM reliability_metrics
		ORDER BY source
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.ReliabilityMetrics
	for rows.Next() {
		var m domain.ReliabilityMetrics
		var subScores string
		if err := rows.Scan(&m.Source, &m.BaseScore, &m.DynamicScore, &m.FinalScore,
			&m.SampleCount, &subScores, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(subScores), &m.SubScores); err != nil {
			return nil, fmt.Errorf("failed to decode sub-scores for %s: %w", m.Source, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Prune deletes samples older than the retention window.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM performance_samples WHERE timestamp < ?", cutoff)
	return err
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.ReliabilityStore = (*SQLiteRepository)(nil)
