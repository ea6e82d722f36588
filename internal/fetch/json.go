package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 10 << 20

// RequestFunc builds a fresh request for one attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// JSON returns a Call that sends the request built by newRequest and, on a
// 2xx response, decodes the body into out. Non-2xx bodies are discarded.
func JSON(client *http.Client, newRequest RequestFunc, out any) Call {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (*http.Response, error) {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 || out == nil {
			return resp, nil
		}

		if err := json.Unmarshal(body, out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp, nil
	}
}

// GetRequest returns a RequestFunc for a GET of url with optional headers.
func GetRequest(url string, header http.Header) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// PostJSONRequest returns a RequestFunc that POSTs payload encoded as JSON.
// The payload is encoded once; every attempt gets a fresh body reader.
func PostJSONRequest(url string, header http.Header, payload any) RequestFunc {
	body, encodeErr := json.Marshal(payload)
	return func(ctx context.Context) (*http.Request, error) {
		if encodeErr != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", encodeErr)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
