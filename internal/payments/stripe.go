package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// StripeClient talks to the Stripe API over HTTP. All calls run under the
// caller's context with a bounded client timeout.
type StripeClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewStripeClient builds a client from viper config. The API key is
// injected here rather than read from a package-level global so tests can
// substitute a fake processor.
func NewStripeClient() *StripeClient {
	viper.SetDefault("stripe.timeout", 15*time.Second)
	return &StripeClient{
		apiKey:  viper.GetString("stripe.secret_key"),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: viper.GetDuration("stripe.timeout")},
	}
}

func (c *StripeClient) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", req.Currency)
	form.Set("destination", req.Destination)
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var transfer Transfer
	if err := c.do(ctx, "POST", "/transfers", form, req.IdempotencyKey, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *StripeClient) RetrieveTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var transfer Transfer
	if err := c.do(ctx, "GET", "/transfers/"+transferID, nil, "", &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *StripeClient) Balance(ctx context.Context) (*Balance, error) {
	var out struct {
		Available []struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"available"`
		Pending []struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"pending"`
	}
	if err := c.do(ctx, "GET", "/balance", nil, "", &out); err != nil {
		return nil, err
	}

	balance := &Balance{}
	if len(out.Available) > 0 {
		balance.AvailableCents = out.Available[0].Amount
	}
	if len(out.Pending) > 0 {
		balance.PendingCents = out.Pending[0].Amount
	}
	return balance, nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(c.apiKey, "")
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return &ProcessorError{
			StatusCode: resp.StatusCode,
			Code:       errBody.Error.Code,
			Message:    errBody.Error.Message,
		}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
