package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// APIError represents an error from the inventory API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsUnauthorized reports whether the server rejected the credentials.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsUnauthorized reports whether err is an APIError with status 401 or 403.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsUnauthorized()
}

// doRequest performs an HTTP request and unwraps the response envelope.
func (c *Client) doRequest(ctx context.Context, method, path, bearer string, payload []byte) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && env.Mensaje != "" {
			msg = env.Mensaje
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       raw,
		}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if !env.Exito {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Mensaje, Body: raw}
	}
	return env.Datos, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path, bearer string, payload []byte) (json.RawMessage, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		data, err := c.doRequest(ctx, method, path, bearer, payload)
		if err == nil {
			return data, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post sends body as JSON and decodes datos into result (when non-nil).
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.postJSON(ctx, path, body, result, true)
}

// postOnce is post without retries, for requests that consume their input
// on the server (a rotated refresh token cannot be sent twice).
func (c *Client) postOnce(ctx context.Context, path string, body, result any) error {
	return c.postJSON(ctx, path, body, result, false)
}

func (c *Client) postJSON(ctx context.Context, path string, body, result any, retry bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var data json.RawMessage
	if retry {
		data, err = c.doWithRetry(ctx, http.MethodPost, path, "", payload)
	} else {
		data, err = c.doRequest(ctx, http.MethodPost, path, "", payload)
	}
	if err != nil {
		return err
	}
	return decodeDatos(data, result)
}

// get performs an authenticated GET request with retries.
func (c *Client) get(ctx context.Context, path, bearer string, result any) error {
	data, err := c.doWithRetry(ctx, http.MethodGet, path, bearer, nil)
	if err != nil {
		return err
	}
	return decodeDatos(data, result)
}

func decodeDatos(data json.RawMessage, result any) error {
	if result == nil {
		return nil
	}
	if len(data) == 0 || string(data) == "null" {
		return errors.New("unmarshal response: empty datos")
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
