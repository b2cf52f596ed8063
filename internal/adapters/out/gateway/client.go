// Package gateway calls the payment provider's HTTP API to capture or release
// authorized funds.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/ports"
)

var (
	_ ports.PaymentGateway = (*Client)(nil)
	_ ports.PaymentGateway = (*LoggingGateway)(nil)
)

const maxErrorBody = 512

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "payment_gateway"),
	}
}

type captureRequest struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

type expireRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (c *Client) Capture(ctx context.Context, auth *authorization.Authorization, reason string) error {
	return c.post(ctx, "capture", auth, captureRequest{
		BookingID:   auth.BookingID().String(),
		AmountCents: auth.AmountCents(),
		Reason:      reason,
	})
}

func (c *Client) Expire(ctx context.Context, auth *authorization.Authorization) error {
	return c.post(ctx, "expire", auth, expireRequest{
		BookingID: auth.BookingID().String(),
		Status:    auth.Status().String(),
	})
}

func (c *Client) post(ctx context.Context, operation string, auth *authorization.Authorization, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}

	url := fmt.Sprintf("%s/v1/authorizations/%s/%s", c.baseURL, auth.ID().String(), operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	// Lets the provider drop replays of the same operation.
	req.Header.Set("Idempotency-Key", operation+":"+auth.ID().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	c.logger.DebugContext(ctx, "gateway call succeeded",
		"operation", operation,
		"authorization_id", auth.ID().String())
	return nil
}

// LoggingGateway accepts every call and only logs it. It backs local runs
// where no provider URL is configured.
type LoggingGateway struct {
	logger *slog.Logger
}

func NewLoggingGateway(logger *slog.Logger) *LoggingGateway {
	return &LoggingGateway{logger: logger.With("component", "payment_gateway")}
}

func (g *LoggingGateway) Capture(ctx context.Context, auth *authorization.Authorization, reason string) error {
	g.logger.InfoContext(ctx, "capture requested (no gateway configured)",
		"authorization_id", auth.ID().String(),
		"amount_cents", auth.AmountCents(),
		"reason", reason)
	return nil
}

func (g *LoggingGateway) Expire(ctx context.Context, auth *authorization.Authorization) error {
	g.logger.InfoContext(ctx, "expiry requested (no gateway configured)",
		"authorization_id", auth.ID().String())
	return nil
}
