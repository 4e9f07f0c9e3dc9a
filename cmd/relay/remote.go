package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/relay/internal/api"
)

const defaultAPIURL = "http://127.0.0.1:8080"

// remoteFlags are shared by every command that talks to a running serve.
type remoteFlags struct {
	url string
	key string
}

func (r *remoteFlags) register(f *pflag.FlagSet) {
	url := os.Getenv("RELAY_API_URL")
	if url == "" {
		url = defaultAPIURL
	}
	f.StringVar(&r.url, "api-url", url, "relay API URL (env RELAY_API_URL)")
	f.StringVar(&r.key, "api-key", os.Getenv("RELAY_API_KEY"), "API bearer token (env RELAY_API_KEY)")
}

func (r *remoteFlags) client() (*apiClient, error) {
	if r.key == "" {
		return nil, fmt.Errorf("API key required: use --api-key or RELAY_API_KEY")
	}
	return &apiClient{
		baseURL: strings.TrimRight(r.url, "/"),
		key:     r.key,
		http:    &http.Client{},
	}, nil
}

// apiClient is a thin JSON client for the relay API.
type apiClient struct {
	baseURL string
	key     string
	http    *http.Client
}

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Body.Kind != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Body.Error, e.Body.Kind, e.Status)
	}
	if e.Body.Error != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Body.Error, e.Status)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// do sends body as JSON and decodes a 2xx answer into out. It returns the
// status code so callers can tell 200 from 202.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// withTimeout bounds ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
