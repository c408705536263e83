// Package syncclient delivers outbox packets to the sync receiver over HTTP.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"offline-pos/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrOffline is returned by Ping when the receiver cannot be reached.
var ErrOffline = errors.New("sync receiver unreachable")

// DeliveryError is a failed delivery. Every DeliveryError is retried by the worker.
type DeliveryError struct {
	StatusCode int
	AppStatus  string
	Errors     []string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	if len(e.Errors) > 0 {
		return fmt.Sprintf("delivery failed: http %d, status %q: %s", e.StatusCode, e.AppStatus, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("delivery failed: http %d, status %q", e.StatusCode, e.AppStatus)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Client posts packets with the terminal's bearer token.
type Client struct {
	http      *http.Client
	token     string
	healthURL string
}

func NewClient(token, healthURL string, timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		token:     token,
		healthURL: healthURL,
	}
}

// Deliver sends one payload and succeeds only on a 2xx response whose body
// reports SUCCESS.
func (c *Client) Deliver(ctx context.Context, url, method string, payload []byte) (*models.SyncAck, error) {
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Err: err}
	}

	var ack models.SyncAck
	if len(body) > 0 {
		if err := json.Unmarshal(body, &ack); err != nil && resp.StatusCode/100 == 2 {
			return nil, &DeliveryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid ack: %w", err)}
		}
	}

	if resp.StatusCode/100 != 2 || ack.Status != models.AckSuccess {
		return &ack, &DeliveryError{StatusCode: resp.StatusCode, AppStatus: ack.Status, Errors: ack.Errors}
	}
	return &ack, nil
}

// Ping probes the receiver's health endpoint. Any response below 500 counts
// as reachable. Without a health URL the receiver is assumed reachable and
// deliveries decide.
func (c *Client) Ping(ctx context.Context) error {
	if c.healthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: health returned %d", ErrOffline, resp.StatusCode)
	}
	return nil
}
