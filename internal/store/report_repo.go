package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// ReportRepo handles persistence for quality reports.
type ReportRepo struct{}

// SaveTx inserts a quality report within an existing transaction.
func (r *ReportRepo) SaveTx(ctx context.Context, tx *sql.Tx, runID string, report domain.QualityReport, createdAt int64) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	const q = `INSERT INTO quality_reports (run_id, overall_score, report_json, created_at)
VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, runID, report.OverallScore, string(data), createdAt); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// GetLatest returns the most recent report for a run.
func (r *ReportRepo) GetLatest(ctx context.Context, db *sql.DB, runID string) (*domain.StoredReport, error) {
	const q = `SELECT id, run_id, overall_score, report_json, created_at
FROM quality_reports
WHERE run_id = ?
ORDER BY id DESC
LIMIT 1`

	var s domain.StoredReport
	var raw string
	err := db.QueryRowContext(ctx, q, runID).Scan(&s.ID, &s.RunID, &s.OverallScore, &raw, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("get latest report: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &s.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &s, nil
}
