package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type tokenSource interface {
	Get() (string, error)
}

// apiError mirrors the gateway error body.
type apiError struct {
	Status  int
	Message string `json:"error"`
	Code    uint32 `json:"code,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

type gatewayClient struct {
	endpoint string
	tokens   tokenSource
	http     *http.Client
}

func newGatewayClient(endpoint string, tokens tokenSource) *gatewayClient {
	return &gatewayClient{
		endpoint: endpoint,
		tokens:   tokens,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *gatewayClient) get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil, false)
}

func (c *gatewayClient) post(path string, body interface{}) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, body, true)
}

func (c *gatewayClient) do(method, path string, body interface{}, auth bool) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		token, err := c.tokens.Get()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(payload, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return nil, apiErr
	}
	return json.RawMessage(payload), nil
}
