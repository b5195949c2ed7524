// Package rpc is a JSON-RPC 2.0 client for the chain node and its cell
// indexer. Transport and RPC errors are returned to the caller unchanged.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error is an error payload returned by the server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is returned for any non-200 response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rpc http status %d: %s", e.StatusCode, e.Body)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     uint64              `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *Error              `json:"error"`
}

type Client struct {
	url              string
	httpClient       *http.Client
	outputsValidator string
	nextID           atomic.Uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithOutputsValidator sets the validator passed to send_transaction, for
// example "passthrough". Empty leaves the node default.
func WithOutputsValidator(v string) Option {
	return func(c *Client) {
		c.outputsValidator = v
	}
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) newRequest(method string, params []any) request {
	if params == nil {
		params = []any{}
	}
	return request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
}

func (c *Client) post(ctx context.Context, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// Call invokes method and decodes the result into result. A null result
// leaves result untouched.
func (c *Client) Call(ctx context.Context, result any, method string, params ...any) error {
	prometheusRequests.WithLabelValues(method).Inc()

	raw, err := c.post(ctx, c.newRequest(method, params))
	if err != nil {
		prometheusErrors.WithLabelValues(method).Inc()
		return err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		prometheusErrors.WithLabelValues(method).Inc()
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// BatchElem is one call of a batch. Error is set per element.
type BatchElem struct {
	Method string
	Params []any
	Result any
	Error  error
}

// BatchCall sends all elements in one HTTP request. The returned error is a
// transport failure; per-call failures are stored in each element.
func (c *Client) BatchCall(ctx context.Context, batch []BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	reqs := make([]request, len(batch))
	byID := make(map[uint64]int, len(batch))
	for i, elem := range batch {
		reqs[i] = c.newRequest(elem.Method, elem.Params)
		byID[reqs[i].ID] = i
		prometheusRequests.WithLabelValues(elem.Method).Inc()
	}

	raw, err := c.post(ctx, reqs)
	if err != nil {
		return err
	}

	var resps []response
	if err := json.Unmarshal(raw, &resps); err != nil {
		return fmt.Errorf("decode batch response: %w", err)
	}

	seen := make(map[int]bool, len(resps))
	for _, resp := range resps {
		i, ok := byID[resp.ID]
		if !ok {
			continue
		}
		seen[i] = true
		elem := &batch[i]
		switch {
		case resp.Error != nil:
			elem.Error = resp.Error
			prometheusErrors.WithLabelValues(elem.Method).Inc()
		case elem.Result != nil && len(resp.Result) > 0:
			elem.Error = json.Unmarshal(resp.Result, elem.Result)
		}
	}
	for i := range batch {
		if !seen[i] {
			batch[i].Error = fmt.Errorf("no response for %s in batch", batch[i].Method)
		}
	}
	return nil
}
