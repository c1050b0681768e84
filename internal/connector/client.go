// Package connector is the retrying HTTP client for the blockchain
// connector's JSON submission API: on-chain queries, transaction
// submission, receipt and subscription lookups.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrUpstream        = errors.New("connector request failed")
)

// Config holds connector endpoint and retry settings.
type Config struct {
	// URL is the connector's submission endpoint base.
	URL string

	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns connector defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Client performs calls against the blockchain connector. Every call runs
// inside the configured retry loop; transient failures are absorbed here and
// never surfaced until attempts are exhausted.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "connector"),
	}
}

type requestHeaders struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type connectorRequest struct {
	Headers requestHeaders `json:"headers"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to"`
	Method  string         `json:"method"`
	Params  []any          `json:"params"`
}

// TxReceipt is the connector's asynchronous transaction outcome.
type TxReceipt struct {
	Headers struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	} `json:"headers"`
	TransactionHash string `json:"transactionHash"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

// ContractInfo describes a deployed contract instance: which ABI methods it
// exposes. The method resolver uses this to gate signature variants.
type ContractInfo struct {
	Name    string   `json:"name,omitempty"`
	Methods []string `json:"methods"`
}

// HasMethod reports whether the contract exposes the named method.
func (c *ContractInfo) HasMethod(name string) bool {
	for _, m := range c.Methods {
		if m == name {
			return true
		}
	}
	return false
}

// SubscriptionInfo is the connector's record of an event subscription.
type SubscriptionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Query performs a read-only method call against a contract.
func (c *Client) Query(ctx context.Context, to, method string, params []any) (json.RawMessage, error) {
	body := connectorRequest{
		Headers: requestHeaders{Type: "Query"},
		To:      to,
		Method:  method,
		Params:  params,
	}

	var out json.RawMessage
	err := withRetry(ctx, c.cfg.Retry, c.logger, "query "+method, func() error {
		return c.post(ctx, c.cfg.URL, body, &out)
	})
	return out, err
}

// SendTransaction submits a transaction for asynchronous execution. The
// receipt arrives later on the event stream, correlated by requestID.
func (c *Client) SendTransaction(ctx context.Context, from, to, requestID, method string, params []any) error {
	body := connectorRequest{
		Headers: requestHeaders{Type: "SendTransaction", ID: requestID},
		From:    from,
		To:      to,
		Method:  method,
		Params:  params,
	}

	return withRetry(ctx, c.cfg.Retry, c.logger, "send "+method, func() error {
		return c.post(ctx, c.cfg.URL, body, nil)
	})
}

// Receipt looks up the receipt for a submitted transaction. An unknown id is
// a distinguished not-found outcome, not a generic failure.
func (c *Client) Receipt(ctx context.Context, id string) (*TxReceipt, error) {
	url := strings.TrimSuffix(c.cfg.URL, "/") + "/reply/" + id

	var receipt TxReceipt
	err := withRetry(ctx, c.cfg.Retry, c.logger, "receipt", func() error {
		return c.get(ctx, url, &receipt, true)
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
		}
		return nil, err
	}
	return &receipt, nil
}

// ContractInfo fetches the contract description served at the given URL.
func (c *Client) ContractInfo(ctx context.Context, url string) (*ContractInfo, error) {
	var info ContractInfo
	err := withRetry(ctx, c.cfg.Retry, c.logger, "contract info", func() error {
		return c.get(ctx, url, &info, false)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Subscription resolves an event subscription by id. The gateway uses this
// lazily to map a raw event's numeric subscription id to its packed name.
func (c *Client) Subscription(ctx context.Context, id string) (*SubscriptionInfo, error) {
	url := strings.TrimSuffix(c.cfg.URL, "/") + "/subscriptions/" + id

	var sub SubscriptionInfo
	err := withRetry(ctx, c.cfg.Retry, c.logger, "subscription", func() error {
		return c.get(ctx, url, &sub, false)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

var errNotFound = errors.New("not found")

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out, false)
}

func (c *Client) get(ctx context.Context, url string, out any, distinguishNotFound bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out, distinguishNotFound)
}

// do performs the request. A 404 is a distinguished outcome only where the
// caller opts in (receipt lookup); everywhere else it is a generic upstream
// rejection like any other non-2xx.
func (c *Client) do(req *http.Request, out any, distinguishNotFound bool) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && distinguishNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUpstream, upstreamMessage(resp.StatusCode, data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// upstreamMessage prefers the connector's own error field when present.
func upstreamMessage(status int, body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return http.StatusText(status)
}
