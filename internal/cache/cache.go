// Package cache maps generation fingerprints to produced artifacts.
package cache

import (
	"context"
	"errors"
)

// ErrUnavailable wraps backend failures so callers can treat the cache as transiently down.
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a content-addressable artifact cache. Entries are immutable:
// the first Put for a fingerprint wins and later writers get the stored
// reference back.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (artifactRef string, found bool, err error)
	Put(ctx context.Context, fingerprint, artifactRef string) (storedRef string, err error)
}
