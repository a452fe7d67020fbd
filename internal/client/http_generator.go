package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// HTTPGenerator talks to an asynchronous video generation REST API:
//
//	POST   /v1/generations              submit
//	GET    /v1/generations/{id}         poll / fetch
//	POST   /v1/generations/{id}/cancel  cancel
type HTTPGenerator struct {
	httpClient *http.Client
	name       string
	baseURL    string
	apiKey     string
	version    string
}

type generationRequest struct {
	Prompt string                 `json:"prompt"`
	Input  string                 `json:"input,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type generationResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

func NewHTTPGenerator(name, baseURL, apiKey, version string, timeout time.Duration) *HTTPGenerator {
	if version == "" {
		version = name
	}
	return &HTTPGenerator{
		httpClient: &http.Client{Timeout: timeout},
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		version:    version,
	}
}

func (c *HTTPGenerator) Version() string { return c.version }

func (c *HTTPGenerator) Submit(ctx context.Context, d model.Directive) (string, error) {
	req := generationRequest{Prompt: d.Prompt, Input: d.Input, Params: d.Params}
	var result generationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/generations", req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", Transient("BAD_RESPONSE", "backend returned no generation id", nil)
	}
	return result.ID, nil
}

func (c *HTTPGenerator) Poll(ctx context.Context, externalID string) (*PollResult, error) {
	result, err := c.status(ctx, externalID)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case "succeeded", "completed", "success":
		return &PollResult{Status: PollSucceeded}, nil
	case "failed", "error", "cancelled":
		permanent := result.Retryable != nil && !*result.Retryable
		msg := result.Error
		if msg == "" {
			msg = "generation " + result.Status
		}
		return &PollResult{Status: PollFailed, Message: msg, Code: result.ErrorCode, Permanent: permanent}, nil
	}
	return &PollResult{Status: PollRunning}, nil
}

func (c *HTTPGenerator) Fetch(ctx context.Context, externalID string) (string, error) {
	result, err := c.status(ctx, externalID)
	if err != nil {
		return "", err
	}
	if result.OutputURL == "" {
		return "", Transient("NO_OUTPUT", "generation "+externalID+" has no output yet", nil)
	}
	return result.OutputURL, nil
}

func (c *HTTPGenerator) Cancel(ctx context.Context, externalID string) error {
	var result generationResponse
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/generations/%s/cancel", externalID), struct{}{}, &result)
}

func (c *HTTPGenerator) status(ctx context.Context, externalID string) (*generationResponse, error) {
	var result generationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/generations/"+externalID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do executes a request and classifies failures as transient or permanent
func (c *HTTPGenerator) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return Permanent("BAD_REQUEST", "failed to marshal request", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return Permanent("BAD_REQUEST", "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Printf("[Generator:%s] → %s %s", c.name, req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Generator:%s] ✗ %s %s request failed: %v", c.name, req.Method, req.URL.String(), err)
		return Transient("NETWORK", "failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient("NETWORK", "failed to read response", err)
	}

	log.Printf("[Generator:%s] ← %d %s %s", c.name, resp.StatusCode, req.Method, req.URL.String())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Transient("RATE_LIMITED", string(respBody), nil)
	case resp.StatusCode >= 500:
		return Transient("BACKEND_UNAVAILABLE", fmt.Sprintf("status %d: %s", resp.StatusCode, respBody), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Permanent("REJECTED", fmt.Sprintf("status %d: %s", resp.StatusCode, respBody), nil)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Generator:%s] ✗ unmarshal error for %s %s: %v", c.name, req.Method, req.URL.String(), err)
		return Transient("BAD_RESPONSE", "failed to unmarshal response", err)
	}
	return nil
}
