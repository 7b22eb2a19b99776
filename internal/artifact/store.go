// Package artifact persists the named blobs a run produces, addressed by
// run id and artifact name.
package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/classletter/newsletter-engine/internal/domain"
)

// Store is key-value persistence for run artifacts.
type Store interface {
	Exists(ctx context.Context, runID, name string) (bool, error)
	Read(ctx context.Context, runID, name string) ([]byte, error)
	Write(ctx context.Context, runID, name string, data []byte) error
}

// ErrNotFound is returned by Read when the artifact does not exist.
var ErrNotFound = domain.ErrArtifactNotFound

// validateKey rejects ids and names that could escape a run's namespace.
func validateKey(runID, name string) error {
	for _, part := range []string{runID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) || strings.ContainsRune(part, 0) {
			return domain.NewEngineError(domain.ErrInvalidArtifact.Code,
				fmt.Sprintf("%s: run %q name %q", domain.ErrInvalidArtifact.Message, runID, name))
		}
	}
	return nil
}
