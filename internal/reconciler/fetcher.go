package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuongbtq/roomflow/internal/domain"
)

// JobReader reads a job by id
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// StoreFetcher reads snapshots straight from the job store
type StoreFetcher struct {
	store JobReader
}

// NewStoreFetcher creates a StoreFetcher
func NewStoreFetcher(store JobReader) *StoreFetcher {
	return &StoreFetcher{store: store}
}

func (f *StoreFetcher) Fetch(ctx context.Context, jobID string) (*Snapshot, error) {
	job, err := f.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Status:    job.Status,
		ResultRef: job.ResultRef,
		Terminal:  job.IsTerminal(),
	}, nil
}

// HTTPFetcher reads snapshots from the API's status endpoint
type HTTPFetcher struct {
	baseURL string
	ownerID string
	client  *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher for the API at baseURL
func NewHTTPFetcher(baseURL, ownerID string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		ownerID: ownerID,
		client:  client,
	}
}

type statusResponse struct {
	Status    string `json:"status"`
	ResultRef string `json:"result_ref"`
	Terminal  bool   `json:"terminal"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, jobID string) (*Snapshot, error) {
	endpoint := f.baseURL + "/api/v1/jobs/" + url.PathEscape(jobID)
	if f.ownerID != "" {
		endpoint += "?" + url.Values{"owner_id": {f.ownerID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrJobNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &Snapshot{
		Status:    domain.Status(out.Status),
		ResultRef: out.ResultRef,
		Terminal:  out.Terminal,
	}, nil
}
