package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClient is used when a caller does not supply its own *http.Client.
var DefaultClient = &http.Client{Timeout: 30 * time.Second}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Do sends a request with an optional JSON payload and returns the raw body.
func Do(ctx context.Context, client *http.Client, method, url string, payload interface{}, headers map[string]string) ([]byte, error) {
	if client == nil {
		client = DefaultClient
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetJSON performs a GET and decodes the JSON body into out.
// Numbers are decoded as json.Number so record ids keep full precision.
func GetJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	body, err := Do(ctx, client, http.MethodGet, url, nil, headers)
	if err != nil {
		return err
	}
	return DecodeJSON(body, out)
}

// PostJSON performs a POST with a JSON payload and decodes the response into out
// when out is non-nil.
func PostJSON(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string, out interface{}) error {
	body, err := Do(ctx, client, http.MethodPost, url, payload, headers)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return DecodeJSON(body, out)
}

// DecodeJSON decodes body into out, tolerating a UTF-8 byte order mark.
func DecodeJSON(body []byte, out interface{}) error {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}
