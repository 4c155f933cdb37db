package criticadapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"canonsafe-governance/backend/internal/datastore"
)

const maxResponseBytes = 4 << 20

// postJSON sends body to url and decodes the JSON reply into out. It returns
// the raw response text alongside a classified CriticFailure on error.
func postJSON(ctx context.Context, client *http.Client, judge *datastore.Judge, url string, headers map[string]string, body, out any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", failure(FailureUpstreamError, judge, "encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", failure(FailureUpstreamError, judge, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", AsFailure(judge.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", AsFailure(judge.ID, fmt.Errorf("read response body: %w", err))
	}
	raw := string(respBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Critic %s (%s) returned status %s", judge.ID, judge.ModelType, resp.Status)
		kind := FailureUpstreamError
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			kind = FailureTimeout
		}
		return raw, failure(kind, judge, "status %s: %s", resp.Status, truncate(raw, 256))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return raw, failure(FailureInvalidResponse, judge, "decode response: %v", err)
	}
	return raw, nil
}

func endpointOr(judge *datastore.Judge, fallback string) string {
	if judge.Endpoint != "" {
		return strings.TrimRight(judge.Endpoint, "/")
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
