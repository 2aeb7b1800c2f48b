package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

const DefaultResendBaseURL = "https://api.resend.com"

type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	// IdempotencyKey makes the mail API drop a repeated send of the same mail.
	IdempotencyKey string
}

type Sender interface {
	Send(ctx context.Context, e Email) error
}

// ResendClient sends through the Resend API.
type ResendClient struct {
	c *resend.Client
}

func NewResendClient(baseURL, apiKey string, hc *http.Client) (*ResendClient, error) {
	if baseURL == "" {
		baseURL = DefaultResendBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	// relative paths resolve against the base, so it needs the trailing slash
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("resend base url: %w", err)
	}
	c := resend.NewCustomClient(hc, apiKey)
	c.BaseURL = u
	return &ResendClient{c: c}, nil
}

func (r *ResendClient) Send(ctx context.Context, e Email) error {
	req := &resend.SendEmailRequest{From: e.From, To: e.To, Subject: e.Subject, Html: e.HTML}
	var opts *resend.SendEmailOptions
	if e.IdempotencyKey != "" {
		opts = &resend.SendEmailOptions{IdempotencyKey: e.IdempotencyKey}
	}
	if _, err := r.c.Emails.SendWithOptions(ctx, req, opts); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}
