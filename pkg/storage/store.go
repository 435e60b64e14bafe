// Package storage persists the single cached model artifact.
//
// Three backends exist: a local file (the default), a Redis key for setups
// where the artifact should survive container restarts without a volume,
// and an in-memory store for tests.
package storage

import "context"

// ArtifactStore holds at most one opaque artifact. Get reports found=false
// when nothing has been stored yet; that is not an error.
type ArtifactStore interface {
	Name() string
	Get(ctx context.Context) (data []byte, found bool, err error)
	Put(ctx context.Context, data []byte) error
}
