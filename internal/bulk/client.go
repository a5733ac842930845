package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is the REST client for the bulk-compute service.
type Client struct {
	client  *resty.Client
	account string
}

// NewClient creates a bulk client from a configured account. Callers must
// check Account.Configured first; an unconfigured account is a programming
// error here.
func NewClient(account Account) (*Client, error) {
	if !account.Configured() {
		return nil, fmt.Errorf("bulk account not fully configured")
	}

	c := resty.New().
		SetBaseURL(account.URL).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Account-Name", account.Name).
		SetAuthToken(account.Key).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{client: c, account: account.Name}, nil
}

type submitRequest struct {
	JobID   string          `json:"job_id"`
	Tier    string          `json:"tier"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	ExternalJobID string `json:"external_job_id"`
}

// Submit posts the job to the service and returns the external job ID.
func (c *Client) Submit(ctx context.Context, jobID string, payload json.RawMessage, tier string) (string, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	req := submitRequest{JobID: jobID, Tier: tier, Payload: payload}

	var out submitResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&out).
		Post("/jobs")
	if err != nil {
		return "", fmt.Errorf("bulk submit %s: %w", jobID, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("bulk submit %s: status %d: %s", jobID, resp.StatusCode(), resp.String())
	}
	if out.ExternalJobID == "" {
		return "", fmt.Errorf("bulk submit %s: empty external_job_id in response", jobID)
	}
	return out.ExternalJobID, nil
}
