package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/QFiSouthaven/Jynco-sub001/internal/cache"
	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/config"
	"github.com/QFiSouthaven/Jynco-sub001/internal/handler"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
	ws "github.com/QFiSouthaven/Jynco-sub001/internal/websocket"
	"github.com/QFiSouthaven/Jynco-sub001/internal/worker"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	gen   *client.MockGenerator
	queue *queue.MemoryQueue
}

type appOptions struct {
	mockDelay time.Duration
	noWorkers bool
}

// setupApp wires the API exactly like main.go, on in-memory backends with
// a fast mock generator and a running worker pool.
func setupApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	if opts.mockDelay == 0 {
		opts.mockDelay = 10 * time.Millisecond
	}

	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue(queue.Options{})
	gen := client.NewMockGenerator("mock@1", opts.mockDelay, 0)
	registry := client.NewRegistry()
	if err := registry.Register("mock", gen, "mock-ai"); err != nil {
		t.Fatalf("failed to register backend: %v", err)
	}

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	retry := service.RetryPolicy{Base: time.Millisecond, MaxAttempts: 3}
	orchestrator := service.NewOrchestrator(st, q, cache.NewMemoryCache(1000, 0), registry, nil, hub, retry)
	projects := service.NewProjectService(st, registry, orchestrator)

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	handler.Register(app, handler.Dependencies{
		Projects:     projects,
		Orchestrator: orchestrator,
		Queue:        q,
		Registry:     registry,
		Hub:          hub,
		Validator:    validator.New(),
	})

	if !opts.noWorkers {
		segments := worker.NewSegmentWorker(orchestrator, q, registry, nil, nil, 5*time.Millisecond, 5*time.Second)
		compositions := worker.NewCompositionWorker(orchestrator, client.LogPublisher{})
		pool := worker.NewPool(q, orchestrator, segments, compositions, config.WorkerConfig{
			Concurrency:            4,
			CompositionConcurrency: 1,
			DequeueWait:            20 * time.Millisecond,
			ReapInterval:           50 * time.Millisecond,
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	return &testApp{app: app, gen: gen, queue: q}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// mustRequest performs a request and fails the test on transport errors.
func mustRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}

// createProject posts a project and returns its id and segment ids.
func createProject(t *testing.T, app *fiber.App, body string) (string, []string) {
	t.Helper()
	resp := mustRequest(t, app, http.MethodPost, "/api/projects", body)
	assertStatus(t, resp, http.StatusCreated)
	result := parseJSON(t, resp)

	project := result["project"].(map[string]interface{})
	var segmentIDs []string
	for _, s := range result["segments"].([]interface{}) {
		segmentIDs = append(segmentIDs, s.(map[string]interface{})["id"].(string))
	}
	return project["id"].(string), segmentIDs
}

// getStatus fetches the render status of a project.
func getStatus(t *testing.T, app *fiber.App, projectID string) map[string]interface{} {
	t.Helper()
	resp := mustRequest(t, app, http.MethodGet, "/api/projects/"+projectID+"/status", "")
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

// waitForStatus polls the status endpoint until cond holds.
func waitForStatus(t *testing.T, app *fiber.App, projectID, what string, cond func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status := getStatus(t, app, projectID)
		if cond(status) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return nil
}

func hasComposition(state string) func(map[string]interface{}) bool {
	return func(s map[string]interface{}) bool { return s["composition"] == state }
}

func hasStatus(state string) func(map[string]interface{}) bool {
	return func(s map[string]interface{}) bool { return s["status"] == state }
}
