package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Client calls the flowreel API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-success response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a 2xx JSON response into out when out is non-nil
func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateBatch sends POST /v1/batches
func (c *Client) CreateBatch(req models.CreateBatchRequest) (*models.Batch, error) {
	var b models.Batch
	if err := c.do(http.MethodPost, "/v1/batches", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBatch sends GET /v1/batches/{id}
func (c *Client) GetBatch(id string) (*models.Batch, error) {
	var b models.Batch
	if err := c.do(http.MethodGet, "/v1/batches/"+id, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches sends GET /v1/batches
func (c *Client) ListBatches() ([]models.Batch, error) {
	var out []models.Batch
	if err := c.do(http.MethodGet, "/v1/batches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunBatch sends POST /v1/batches/{id}/run
func (c *Client) RunBatch(id string) error {
	return c.do(http.MethodPost, "/v1/batches/"+id+"/run", nil, nil)
}

// RegenerateScene sends POST /v1/batches/{id}/scenes/{index}/regenerate
func (c *Client) RegenerateScene(id string, index int) error {
	return c.do(http.MethodPost, fmt.Sprintf("/v1/batches/%s/scenes/%d/regenerate", id, index), nil, nil)
}

// DeleteScene sends DELETE /v1/batches/{id}/scenes/{index}
func (c *Client) DeleteScene(id string, index int) (*models.Scene, error) {
	var sc models.Scene
	if err := c.do(http.MethodDelete, fmt.Sprintf("/v1/batches/%s/scenes/%d", id, index), nil, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Assemble sends POST /v1/batches/{id}/assemble and returns the final video path
func (c *Client) Assemble(id string) (string, error) {
	var out struct {
		FinalVideo string `json:"finalVideo"`
	}
	if err := c.do(http.MethodPost, "/v1/batches/"+id+"/assemble", nil, &out); err != nil {
		return "", err
	}
	return out.FinalVideo, nil
}
