package artifact

import (
	"context"
	"database/sql"

	"github.com/classletter/newsletter-engine/internal/store"
)

// SQLStore keeps artifacts in the engine's SQLite database.
type SQLStore struct {
	DB   *sql.DB
	Repo *store.ArtifactRepo
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, Repo: &store.ArtifactRepo{}}
}

func (s *SQLStore) Exists(ctx context.Context, runID, name string) (bool, error) {
	if err := validateKey(runID, name); err != nil {
		return false, err
	}
	return s.Repo.Exists(ctx, s.DB, runID, name)
}

func (s *SQLStore) Read(ctx context.Context, runID, name string) ([]byte, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, err
	}
	return s.Repo.Get(ctx, s.DB, runID, name)
}

func (s *SQLStore) Write(ctx context.Context, runID, name string, data []byte) error {
	if err := validateKey(runID, name); err != nil {
		return err
	}
	return s.Repo.Put(ctx, s.DB, runID, name, data)
}
