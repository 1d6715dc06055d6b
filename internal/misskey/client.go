package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"
)

// ErrNotDetailed indicates the instance returned a user object without the
// detailed counters. The caller must treat this as permanent: no amount of
// retrying will make the counters appear.
var ErrNotDetailed = errors.New("endpoint 'i' did not return a detailed user object")

// Client talks to a single Misskey instance over its JSON API.
type Client struct {
	host       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client bound to the given instance host.
func NewClient(host string, logger *slog.Logger) *Client {
	return &Client{
		host:    host,
		baseURL: fmt.Sprintf("https://%s/api", host),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// DetailedUser holds the profile counters returned by the 'i' endpoint.
// The count fields are pointers so a non-detailed response (counters
// absent) is distinguishable from counters that are genuinely zero.
type DetailedUser struct {
	Username       string `json:"username"`
	NotesCount     *int64 `json:"notesCount"`
	FollowingCount *int64 `json:"followingCount"`
	FollowersCount *int64 `json:"followersCount"`
}

// IsDetailed reports whether the response carried the profile counters.
func (u DetailedUser) IsDetailed() bool {
	return u.NotesCount != nil && u.FollowingCount != nil && u.FollowersCount != nil
}

// Me fetches the authenticated account's own detailed profile.
func (c *Client) Me(ctx context.Context, token string) (*DetailedUser, error) {
	var user DetailedUser
	if err := c.request(ctx, "i", map[string]interface{}{"i": token}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateNote posts a note with home visibility on the account's behalf.
func (c *Client) CreateNote(ctx context.Context, token, text string) error {
	return c.request(ctx, "notes/create", map[string]interface{}{
		"i":          token,
		"text":       text,
		"visibility": "home",
	}, nil)
}

// SendNotification delivers a private notification to the account itself.
func (c *Client) SendNotification(ctx context.Context, token, header, body string) error {
	return c.request(ctx, "notifications/create", map[string]interface{}{
		"i":      token,
		"header": header,
		"body":   body,
	}, nil)
}

// APIError is a non-2xx response from the instance.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("misskey API %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (c *Client) request(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	bodyBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s on %s: %w", endpoint, c.host, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       string(respBytes),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", endpoint, err)
		}
	}

	c.logger.Debug("misskey API call succeeded", "host", c.host, "endpoint", endpoint)
	return nil
}
