package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/config"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// PollStatus is the backend-reported state of a submitted generation
type PollStatus string

const (
	PollRunning   PollStatus = "running"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

// PollResult is returned by Generator.Poll. Message and Permanent are only
// meaningful when Status is PollFailed.
type PollResult struct {
	Status    PollStatus
	Message   string
	Code      string
	Permanent bool
}

// Generator is the contract every video generation backend implements.
type Generator interface {
	Submit(ctx context.Context, d model.Directive) (externalID string, err error)
	Poll(ctx context.Context, externalID string) (*PollResult, error)
	Fetch(ctx context.Context, externalID string) (artifactRef string, err error)
	// Version identifies the model behind the backend; it is part of the cache key.
	Version() string
}

// Canceler is implemented by backends that can abort a submitted generation.
type Canceler interface {
	Cancel(ctx context.Context, externalID string) error
}

// GenerationError classifies a backend failure.
type GenerationError struct {
	Code      string
	Message   string
	Permanent bool
	Err       error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient builds an error worth retrying.
func Transient(code, message string, err error) error {
	return &GenerationError{Code: code, Message: message, Err: err}
}

// Permanent builds an error no retry can fix.
func Permanent(code, message string, err error) error {
	return &GenerationError{Code: code, Message: message, Permanent: true, Err: err}
}

// IsPermanent reports whether err was classified permanent. Unclassified
// errors are treated as transient.
func IsPermanent(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Permanent
}

// ErrorCode returns the classification code of err, if any.
func ErrorCode(err error) string {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// Registry resolves directive backend keys to generators. It is filled at
// startup and only read afterwards.
type Registry struct {
	generators map[string]Generator
	names      []string
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds g under name and each alias.
func (r *Registry) Register(name string, g Generator, aliases ...string) error {
	for _, key := range append([]string{name}, aliases...) {
		if _, exists := r.generators[key]; exists {
			return fmt.Errorf("backend %q registered twice", key)
		}
		r.generators[key] = g
	}
	r.names = append(r.names, name)
	sort.Strings(r.names)
	return nil
}

// Get returns the generator for key or a permanent error.
func (r *Registry) Get(key string) (Generator, error) {
	g, ok := r.generators[key]
	if !ok {
		return nil, Permanent("UNKNOWN_BACKEND", fmt.Sprintf("no backend registered for %q", key), nil)
	}
	return g, nil
}

// Names lists the canonical backend names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// NewRegistryFromConfig builds the registry from the configured backends.
func NewRegistryFromConfig(backends []config.BackendConfig) (*Registry, error) {
	r := NewRegistry()
	for _, b := range backends {
		var g Generator
		switch b.Kind {
		case "mock":
			g = NewMockGenerator(b.Version, b.Delay, b.FailRate)
		case "http":
			timeout := b.Timeout
			if timeout == 0 {
				timeout = 60 * time.Second
			}
			g = NewHTTPGenerator(b.Name, b.BaseURL, b.APIKey, b.Version, timeout)
		default:
			return nil, fmt.Errorf("backend %s: unknown kind %q", b.Name, b.Kind)
		}
		if err := r.Register(b.Name, g, b.Aliases...); err != nil {
			return nil, err
		}
	}
	return r, nil
}
