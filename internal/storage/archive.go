// Package storage holds the object stores that purged events are archived to.
package storage

import "context"

// Archiver persists an archive object under key. Implementations must be safe
// for concurrent use.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
