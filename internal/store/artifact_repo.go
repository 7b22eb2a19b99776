package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// ArtifactRepo stores named run artifacts as blobs.
type ArtifactRepo struct{}

// Put inserts or replaces an artifact.
func (r *ArtifactRepo) Put(ctx context.Context, db *sql.DB, runID, name string, data []byte) error {
	const q = `INSERT INTO artifacts (run_id, name, data, updated_at_unix)
VALUES (?, ?, ?, ?)
ON CONFLICT(run_id, name) DO UPDATE SET data = excluded.data, updated_at_unix = excluded.updated_at_unix`
	if data == nil {
		data = []byte{}
	}
	if _, err := db.ExecContext(ctx, q, runID, name, data, time.Now().Unix()); err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// Get returns the artifact bytes or ErrArtifactNotFound.
func (r *ArtifactRepo) Get(ctx context.Context, db *sql.DB, runID, name string) ([]byte, error) {
	const q = `SELECT data FROM artifacts WHERE run_id = ? AND name = ?`

	var data []byte
	err := db.QueryRowContext(ctx, q, runID, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether the artifact is stored.
func (r *ArtifactRepo) Exists(ctx context.Context, db *sql.DB, runID, name string) (bool, error) {
	const q = `SELECT COUNT(1) FROM artifacts WHERE run_id = ? AND name = ?`

	var n int
	if err := db.QueryRowContext(ctx, q, runID, name).Scan(&n); err != nil {
		return false, fmt.Errorf("check artifact: %w", err)
	}
	return n > 0, nil
}
