package service

import (
	"errors"
	"fmt"

	"github.com/QFiSouthaven/Jynco-sub001/internal/cache"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrRenderNotFound  = errors.New("render not found")
	ErrEmptyProject    = errors.New("project has no segments")
	ErrUnknownBackend  = errors.New("unknown generation backend")
	ErrRenderInFlight  = errors.New("project has a render in flight")
	ErrNotRetryable    = errors.New("only failed segments can be retried")
	ErrUnavailable     = errors.New("render temporarily unavailable")
)

// unavailable folds infrastructure outages into ErrUnavailable.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, queue.ErrUnavailable) || errors.Is(err, cache.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// notFound maps store.ErrNotFound to the given service error.
func notFound(err, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return unavailable(err)
}
