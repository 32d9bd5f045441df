package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client resolves enrollments from the institution directory service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool

	// SkipRoster is returned for every course when Skip is set.
	SkipRoster []string
}

// NewClient creates a directory client. With skip set, every lookup returns
// skipRoster without a network call (dev mode).
func NewClient(baseURL string, skip bool, skipRoster []string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Skip:       skip,
		SkipRoster: skipRoster,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ExpectedParticipants fetches the enrolled student ids for a course.
func (c *Client) ExpectedParticipants(ctx context.Context, courseID string) ([]string, error) {
	if c.Skip {
		return append([]string(nil), c.SkipRoster...), nil
	}
	if courseID == "" {
		return nil, fmt.Errorf("course id required")
	}

	u := c.BaseURL + "/courses/" + url.PathEscape(courseID) + "/enrollments"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnknownCourse
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory service error %s: %s", resp.Status, string(body))
	}

	var out struct {
		StudentIDs []string `json:"student_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.StudentIDs, nil
}

// Health checks if the directory service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("directory service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("directory service unhealthy: %s", resp.Status)
	}

	return nil
}
