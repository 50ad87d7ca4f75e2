package fivetran

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the Fivetran REST API v1 endpoint
const DefaultBaseURL = "https://api.fivetran.com/v1"

// Config holds Fivetran API client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
	UserAgent      string
}

// Client represents a Fivetran REST API client.
// Credentials are set once at construction and never logged.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Fivetran API client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("fivetran api key is required")
	}
	if config.APISecret == "" {
		return nil, fmt.Errorf("fivetran api secret is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = "fivetran-sync"
	}

	logger.Info("Fivetran client initialized",
		slog.String("base_url", baseURL),
		slog.Duration("request_timeout", timeout),
	)

	return &Client{
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// GetConnector retrieves the details of a Fivetran connector
func (c *Client) GetConnector(ctx context.Context, connectorID string) (*Connector, error) {
	if connectorID == "" {
		return nil, fmt.Errorf("connector id is required")
	}

	var connector Connector
	url := fmt.Sprintf("%s/connectors/%s", c.baseURL, connectorID)
	if err := c.do(ctx, http.MethodGet, url, nil, &connector); err != nil {
		return nil, fmt.Errorf("failed to get connector %s: %w", connectorID, err)
	}

	return &connector, nil
}

// PatchConnector alters connector metadata such as schedule_type or paused
func (c *Client) PatchConnector(ctx context.Context, connectorID string, patch ConnectorPatch) (*Connector, error) {
	if connectorID == "" {
		return nil, fmt.Errorf("connector id is required")
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connector patch: %w", err)
	}

	var connector Connector
	url := fmt.Sprintf("%s/connectors/%s", c.baseURL, connectorID)
	if err := c.do(ctx, http.MethodPatch, url, body, &connector); err != nil {
		return nil, fmt.Errorf("failed to patch connector %s: %w", connectorID, err)
	}

	c.logger.Info("Connector patched",
		slog.String("connector_id", connectorID),
	)

	return &connector, nil
}

// ForceSync triggers a data sync for the connector
func (c *Client) ForceSync(ctx context.Context, connectorID string) error {
	if connectorID == "" {
		return fmt.Errorf("connector id is required")
	}

	url := fmt.Sprintf("%s/connectors/%s/force", c.baseURL, connectorID)
	if err := c.do(ctx, http.MethodPost, url, nil, nil); err != nil {
		return fmt.Errorf("failed to force sync for connector %s: %w", connectorID, err)
	}

	c.logger.Info("Connector sync triggered",
		slog.String("connector_id", connectorID),
	)

	return nil
}

// do issues a single request and decodes the "data" envelope into out
func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json;version=2")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope apiEnvelope
	if len(respBody) > 0 {
		// Fivetran error bodies carry code/message in the same envelope,
		// so a decode failure on an error status is not fatal.
		if err := json.Unmarshal(respBody, &envelope); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Code,
			Message:    envelope.Message,
		}
	}

	if out != nil {
		if len(envelope.Data) == 0 {
			return fmt.Errorf("response contains no data")
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}

// apiEnvelope is the common wrapper around Fivetran API responses
type apiEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError represents a non-2xx response from the Fivetran API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("fivetran api error: status %d, code %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fivetran api error: status %d", e.StatusCode)
}
