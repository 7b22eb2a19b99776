package artifact

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/classletter/newsletter-engine/internal/config"
)

// Open builds the store selected by the storage configuration. The returned
// close function releases backend connections and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig, db *sql.DB) (Store, func(), error) {
	switch cfg.ArtifactBackend {
	case config.BackendFS, "":
		s, err := NewFileStore(cfg.ArtifactDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.BackendSQLite:
		return NewSQLStore(db), func() {}, nil
	case config.BackendMongo:
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown artifact backend %q", cfg.ArtifactBackend)
}
