// Package lnbits is the HTTP adapter for an LNbits-compatible wallet
// backend. Wallet selection rides on the api key and wallet id headers; all
// amounts are satoshis.
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"boltcard-service/internal/core/ports"

	"github.com/rs/zerolog"
)

const defaultTimeout = 15 * time.Second

// Client implements ports.WalletBackend.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a wallet backend client. timeout bounds every call,
// payments included; a payment that outlives it is treated as failed and the
// caller rolls back.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type paymentRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11,omitempty"`
	Amount int64  `json:"amount,omitempty"`
	Memo   string `json:"memo,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

type paymentStatus struct {
	Paid bool `json:"paid"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// PayInvoice pays a BOLT11 invoice from the given wallet.
func (c *Client) PayInvoice(ctx context.Context, apiKey, walletID, bolt11 string) (string, error) {
	var resp paymentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/payments", apiKey, walletID,
		paymentRequest{Out: true, Bolt11: bolt11}, &resp)
	if err != nil {
		return "", fmt.Errorf("pay invoice: %w", err)
	}
	return resp.PaymentHash, nil
}

// CreateInvoice creates a sat-denominated invoice on the given wallet.
func (c *Client) CreateInvoice(ctx context.Context, apiKey, walletID string, amountSats int64, memo string) (*ports.Invoice, error) {
	var resp paymentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/payments", apiKey, walletID,
		paymentRequest{Out: false, Amount: amountSats, Memo: memo, Unit: "sat"}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &ports.Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    resp.PaymentHash,
	}, nil
}

// InvoiceStatus reports settlement for a payment hash. A 404 means the
// backend no longer tracks the invoice and is reported as expired.
func (c *Client) InvoiceStatus(ctx context.Context, apiKey, walletID, paymentHash string) (ports.InvoiceState, error) {
	var status paymentStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, apiKey, walletID, nil, &status)
	if err != nil {
		var httpErr *statusError
		if errors.As(err, &httpErr) && httpErr.code == http.StatusNotFound {
			return ports.InvoiceStateExpired, nil
		}
		return "", fmt.Errorf("invoice status: %w", err)
	}
	if status.Paid {
		return ports.InvoiceStatePaid, nil
	}
	return ports.InvoiceStatePending, nil
}

// Transfer moves sats between two wallets of the same account by creating
// an invoice on the target and paying it from the source. Internal payments
// settle instantly on the backend.
func (c *Client) Transfer(ctx context.Context, apiKey, fromWalletID, toWalletID string, amountSats int64, memo string) error {
	inv, err := c.CreateInvoice(ctx, apiKey, toWalletID, amountSats, memo)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if _, err := c.PayInvoice(ctx, apiKey, fromWalletID, inv.PaymentRequest); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

// statusError carries the HTTP status of a failed call.
type statusError struct {
	code   int
	detail string
}

func (e *statusError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("wallet backend returned %d: %s", e.code, e.detail)
	}
	return fmt.Sprintf("wallet backend returned %d", e.code)
}

func (c *Client) do(ctx context.Context, method, path, apiKey, walletID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Api-Key", apiKey)
	if walletID != "" {
		req.Header.Set("X-Wallet-Id", walletID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling wallet backend: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &apiErr)
		return &statusError{code: resp.StatusCode, detail: apiErr.Detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
