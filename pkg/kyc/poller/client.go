package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status mirrors the GET /api/kyc/status response.
type Status struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
	InquiryID string `json:"inquiryId,omitempty"`
}

// IsTerminal reports completed or failed. An expired session is also final
// for the poller since nothing will move it again.
func (s *Status) IsTerminal() bool {
	switch s.Status {
	case "completed", "failed", "expired":
		return true
	}
	return s.Completed
}

// HTTPFetcher calls the status endpoint with a bearer access token.
type HTTPFetcher struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewHTTPFetcher builds a fetcher against baseURL. A nil client gets a
// 10 second timeout.
func NewHTTPFetcher(baseURL, accessToken string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      client,
	}
}

func (f *HTTPFetcher) FetchStatus(ctx context.Context, sessionToken string) (*Status, error) {
	endpoint := f.baseURL + "/api/kyc/status?session_token=" + url.QueryEscape(sessionToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.accessToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request: unexpected status %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}
