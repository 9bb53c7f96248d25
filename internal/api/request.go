package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// doRequest performs one HTTP request. body, when not nil, is sent as JSON.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &RequestError{
				Op:   op,
				Kind: KindInvalid,
				Err:  goerr.Wrap(err, "encode request body", goerr.V("path", path)),
			}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &RequestError{
			Op:   op,
			Kind: KindInvalid,
			Err:  goerr.Wrap(err, "create request", goerr.V("url", fullURL)),
		}
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{
			Op:   op,
			Kind: KindNetwork,
			Err:  goerr.Wrap(err, "do request", goerr.V("method", method), goerr.V("url", fullURL)),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{
			Op:         op,
			Kind:       KindNetwork,
			StatusCode: resp.StatusCode,
			Err:        goerr.Wrap(err, "read response", goerr.V("url", fullURL)),
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &RequestError{
			Op:         op,
			Kind:       KindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Err: goerr.New(http.StatusText(resp.StatusCode),
				goerr.V("method", method),
				goerr.V("url", fullURL),
			),
		}
	}

	return respBody, nil
}

// doWithRetry performs a request with jittered exponential backoff on 5xx
// and 429 responses.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	var lastErr *RequestError
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"op", op,
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, &RequestError{Op: op, Kind: KindNetwork, Err: ctx.Err()}
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		respBody, err := c.doRequest(ctx, op, method, path, query, body)
		if err == nil {
			return respBody, nil
		}

		var reqErr *RequestError
		if !errors.As(err, &reqErr) || !reqErr.IsRetryable() {
			return nil, err
		}
		lastErr = reqErr
	}

	c.logger.Warn("max retries exceeded", "op", op, "path", path, "status", lastErr.StatusCode)
	lastErr.Err = goerr.Wrap(lastErr.Err, "max retries exceeded", goerr.V("retries", c.maxRetries))
	return nil, lastErr
}

// decode unmarshals a response body, reporting failures as KindInvalid.
func decode(op string, body []byte, result any) error {
	if err := json.Unmarshal(body, result); err != nil {
		return &RequestError{
			Op:   op,
			Kind: KindInvalid,
			Err:  goerr.Wrap(err, "unmarshal response", goerr.V("size", len(body))),
		}
	}
	return nil
}
