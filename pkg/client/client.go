package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sonarboard/internal/domain"
)

// Client is the API client for a running sonarboard server. The CLI talks to
// the server through it because the job registry only exists in the server
// process.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProjectInfo is one tracked project as reported by the API
type ProjectInfo struct {
	Key                 string    `json:"key"`
	Name                string    `json:"name"`
	IsActive            bool      `json:"is_active"`
	IsMarkedForDeletion bool      `json:"is_marked_for_deletion"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UpdateInterval      int       `json:"update_interval"`
	LastSeen            time.Time `json:"last_seen"`
}

// ListProjects retrieves tracked projects
func (c *Client) ListProjects(includeInactive bool) ([]ProjectInfo, error) {
	params := url.Values{}
	if includeInactive {
		params.Set("include_inactive", "true")
	}

	var response struct {
		Projects []ProjectInfo `json:"projects"`
	}
	if err := c.get("/api/v1/projects", params, &response); err != nil {
		return nil, err
	}
	return response.Projects, nil
}

// Sync asks the server to discover projects upstream and schedule them
func (c *Client) Sync() (int, error) {
	var response struct {
		Discovered int `json:"discovered"`
	}
	if err := c.post("/api/v1/sync", nil, &response); err != nil {
		return 0, err
	}
	return response.Discovered, nil
}

// TriggerRefresh fires an immediate refresh for a project
func (c *Client) TriggerRefresh(key string) (string, error) {
	var response struct {
		JobID string `json:"job_id"`
	}
	path := fmt.Sprintf("/api/v1/projects/%s/refresh", url.PathEscape(key))
	if err := c.post(path, nil, &response); err != nil {
		return "", err
	}
	return response.JobID, nil
}

// SetInterval updates an entity's refresh interval
func (c *Client) SetInterval(entityType domain.EntityType, id string, seconds int) error {
	var path string
	if entityType == domain.EntityTypeGroup {
		path = fmt.Sprintf("/api/v1/groups/%s/interval", url.PathEscape(id))
	} else {
		path = fmt.Sprintf("/api/v1/projects/%s/interval", url.PathEscape(id))
	}
	body := map[string]int{"seconds": seconds}
	return c.do(http.MethodPut, path, body, nil)
}

// ListJobs retrieves the scheduler's job registry
func (c *Client) ListJobs() ([]domain.JobDescriptor, error) {
	var response struct {
		Jobs []domain.JobDescriptor `json:"jobs"`
	}
	if err := c.get("/api/v1/jobs", nil, &response); err != nil {
		return nil, err
	}
	return response.Jobs, nil
}

// ReportPreview retrieves the rendered HTML for a period report
func (c *Client) ReportPreview(period, projectKey string) (string, error) {
	params := url.Values{}
	if projectKey != "" {
		params.Set("project", projectKey)
	}

	u, err := url.Parse(c.baseURL + "/api/v1/reports/" + url.PathEscape(period) + "/preview")
	if err != nil {
		return "", err
	}
	u.RawQuery = params.Encode()

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	return string(body), nil
}

// HealthCheck checks if the API is reachable
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, result)
}

func (c *Client) post(path string, body, result interface{}) error {
	return c.do(http.MethodPost, path, body, result)
}

func (c *Client) do(method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, result)
}

func decodeResponse(resp *http.Response, result interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
