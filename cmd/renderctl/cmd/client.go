package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BridgeClient handles API calls to the workflow bridge.
type BridgeClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewBridgeClient creates a client with the given base URL.
func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError represents an error response from the bridge.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Generate sends POST /workflows/generate.
func (c *BridgeClient) Generate(req map[string]any) (map[string]any, error) {
	return c.do(http.MethodPost, "/workflows/generate", req)
}

// Start sends POST /workflows.
func (c *BridgeClient) Start(req map[string]any) (map[string]any, error) {
	return c.do(http.MethodPost, "/workflows", req)
}

// Status sends GET /workflows/{id}/status.
func (c *BridgeClient) Status(id string) (map[string]any, error) {
	return c.do(http.MethodGet, "/workflows/"+id+"/status", nil)
}

// Result sends GET /workflows/{id}/result.
func (c *BridgeClient) Result(id string) (map[string]any, error) {
	return c.do(http.MethodGet, "/workflows/"+id+"/result", nil)
}

// Query sends GET /workflows/{id}/query/{name}.
func (c *BridgeClient) Query(id, name string) (map[string]any, error) {
	return c.do(http.MethodGet, "/workflows/"+id+"/query/"+name, nil)
}

// Signal sends POST /workflows/{id}/signal/{name}.
func (c *BridgeClient) Signal(id, name string, payload any) (map[string]any, error) {
	return c.do(http.MethodPost, "/workflows/"+id+"/signal/"+name, payload)
}

// Cancel sends POST /workflows/{id}/cancel.
func (c *BridgeClient) Cancel(id string) (map[string]any, error) {
	return c.do(http.MethodPost, "/workflows/"+id+"/cancel", nil)
}

// List sends GET /workflows.
func (c *BridgeClient) List() (map[string]any, error) {
	return c.do(http.MethodGet, "/workflows", nil)
}

func (c *BridgeClient) do(method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return result, nil
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
