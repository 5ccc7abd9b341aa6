package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// statusResponse is the part of GET /api/v1/stats the CLI reads.
type statusResponse struct {
	Engine         similarity.Stats   `json:"engine"`
	APIDocuments   int64              `json:"api_documents"`
	DiskUsageBytes *int64             `json:"disk_usage_bytes,omitempty"`
	LastRun        *similarity.Report `json:"last_run,omitempty"`
}

func relatedViaHTTP(serverURL string, query models.RelatedQuery) (*models.RelatedResponse, error) {
	params := url.Values{"id": {query.ID}}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	var response models.RelatedResponse
	if err := call(http.MethodGet, serverURL+"/api/v1/related?"+params.Encode(), http.StatusOK, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	var s statusResponse
	if err := call(http.MethodGet, serverURL+"/api/v1/stats", http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// reindexViaHTTP starts or cancels a server reindex and returns a message for the user.
func reindexViaHTTP(serverURL string, cancel, incremental bool) (string, error) {
	if cancel {
		if err := call(http.MethodDelete, serverURL+"/api/v1/reindex", http.StatusAccepted, nil); err != nil {
			return "", err
		}
		return "Reindex cancellation requested", nil
	}
	target := serverURL + "/api/v1/reindex"
	if incremental {
		target += "?incremental=true"
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := call(http.MethodPost, target, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reindex started: %s", out.RunID), nil
}

// call sends a request without a body and decodes the JSON response into out
// when the server answers with want.
func call(method, target string, want int, out interface{}) error {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
