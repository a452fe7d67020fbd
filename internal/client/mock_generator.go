package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// Directive params understood by MockGenerator to force an outcome.
const (
	MockOutcomeParam     = "mock_outcome"
	MockOutcomeFail      = "fail"           // transient failure reported by Poll
	MockOutcomePermanent = "fail-permanent" // permanent failure reported by Poll
	MockOutcomeReject    = "reject"         // permanent error from Submit
)

type mockJob struct {
	submitted time.Time
	outcome   string
	cancelled bool
}

// MockGenerator simulates a video backend for development and tests.
type MockGenerator struct {
	version  string
	delay    time.Duration
	failRate float64

	mu          sync.Mutex
	rng         *rand.Rand
	jobs        map[string]*mockJob
	submissions int
}

func NewMockGenerator(version string, delay time.Duration, failRate float64) *MockGenerator {
	if version == "" {
		version = "mock@1"
	}
	return &MockGenerator{
		version:  version,
		delay:    delay,
		failRate: failRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		jobs:     make(map[string]*mockJob),
	}
}

func (m *MockGenerator) Version() string { return m.version }

func (m *MockGenerator) Submit(ctx context.Context, d model.Directive) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions++
	outcome, _ := d.Params[MockOutcomeParam].(string)
	if outcome == MockOutcomeReject {
		return "", Permanent("INVALID_DIRECTIVE", "mock backend rejected the directive", nil)
	}
	if outcome == "" && m.failRate > 0 && m.rng.Float64() < m.failRate {
		outcome = MockOutcomeFail
	}

	id := "mock-" + uuid.New().String()
	m.jobs[id] = &mockJob{submitted: time.Now(), outcome: outcome}
	return id, nil
}

func (m *MockGenerator) Poll(ctx context.Context, externalID string) (*PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[externalID]
	if !ok {
		return nil, Permanent("UNKNOWN_JOB", "mock job "+externalID+" not found", nil)
	}
	switch {
	case job.cancelled:
		return &PollResult{Status: PollFailed, Message: "cancelled", Code: "CANCELLED", Permanent: true}, nil
	case time.Since(job.submitted) < m.delay:
		return &PollResult{Status: PollRunning}, nil
	case job.outcome == MockOutcomeFail:
		return &PollResult{Status: PollFailed, Message: "simulated generation failure", Code: "MOCK_FAILURE"}, nil
	case job.outcome == MockOutcomePermanent:
		return &PollResult{Status: PollFailed, Message: "simulated content policy violation", Code: "CONTENT_POLICY", Permanent: true}, nil
	}
	return &PollResult{Status: PollSucceeded}, nil
}

func (m *MockGenerator) Fetch(ctx context.Context, externalID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[externalID]; !ok {
		return "", Permanent("UNKNOWN_JOB", "mock job "+externalID+" not found", nil)
	}
	return fmt.Sprintf("https://mock-cdn.example.com/videos/%s.mp4", externalID), nil
}

func (m *MockGenerator) Cancel(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[externalID]; ok {
		job.cancelled = true
	}
	return nil
}

// Submissions returns how many times Submit was called.
func (m *MockGenerator) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions
}
