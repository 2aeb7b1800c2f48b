// Package mercadopago is a minimal client for the checkout preference and
// payment endpoints this service relies on.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// Payment statuses as reported by the processor.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusChargeBack = "charged_back"
)

var ErrPaymentNotFound = errors.New("mercadopago: payment not found")

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: http %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

type Item struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PaymentMethods struct {
	ExcludedPaymentMethods []struct{} `json:"excluded_payment_methods"`
	ExcludedPaymentTypes   []struct{} `json:"excluded_payment_types"`
	Installments           int        `json:"installments"`
}

type PreferenceRequest struct {
	Items               []Item         `json:"items"`
	ExternalReference   string         `json:"external_reference"`
	PaymentMethods      PaymentMethods `json:"payment_methods"`
	BackURLs            BackURLs       `json:"back_urls"`
	AutoReturn          string         `json:"auto_return,omitempty"`
	BinaryMode          bool           `json:"binary_mode"`
	NotificationURL     string         `json:"notification_url,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
}

type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
	CollectorID      ID     `json:"collector_id"`
}

type Payer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Payment struct {
	ID                ID        `json:"id"`
	Status            string    `json:"status"`
	StatusDetail      string    `json:"status_detail"`
	ExternalReference string    `json:"external_reference"`
	PaymentMethodID   string    `json:"payment_method_id"`
	CollectionID      ID        `json:"collection_id"`
	DateCreated       time.Time `json:"date_created"`
	Payer             *Payer    `json:"payer"`
	AdditionalInfo    *struct {
		Payer *Payer `json:"payer"`
	} `json:"additional_info"`
}

// PayerEmail prefers payer.email and falls back to additional_info.payer.email.
func (p Payment) PayerEmail() string {
	if p.Payer != nil && p.Payer.Email != "" {
		return p.Payer.Email
	}
	if p.AdditionalInfo != nil && p.AdditionalInfo.Payer != nil {
		return p.AdditionalInfo.Payer.Email
	}
	return ""
}

func (p Payment) PayerName() string {
	if p.Payer != nil {
		if n := fullName(p.Payer); n != "" {
			return n
		}
	}
	if p.AdditionalInfo != nil && p.AdditionalInfo.Payer != nil {
		return fullName(p.AdditionalInfo.Payer)
	}
	return ""
}

func fullName(p *Payer) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (c *Client) CreatePreference(ctx context.Context, token string, req PreferenceRequest) (*Preference, error) {
	var out Preference
	if err := c.do(ctx, token, http.MethodPost, "/checkout/preferences", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("mercadopago: preference response without id")
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, token, paymentID string) (*Payment, error) {
	var out Payment
	err := c.do(ctx, token, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusBadRequest) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchPayments lists the last 7 days of payments for an external reference,
// newest first.
func (c *Client) SearchPayments(ctx context.Context, token, externalRef string) ([]Payment, error) {
	q := url.Values{}
	q.Set("external_reference", externalRef)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("range", "date_created")
	q.Set("begin_date", "NOW-7DAYS")
	q.Set("end_date", "NOW")

	var out struct {
		Results []Payment `json:"results"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].DateCreated.After(out.Results[j].DateCreated)
	})
	return out.Results, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mercadopago: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mercadopago: decode %s: %w", path, err)
	}
	return nil
}
