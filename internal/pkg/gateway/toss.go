package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
)

const defaultTossAPIBaseURL = "https://api.tosspayments.com"

// TossClient is the domestic (KRW) gateway adapter. Toss settles one-time
// payments through an explicit server-side confirm call; recurring membership
// runs on billing-key authorization with a redirect approval step.
type TossClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewTossClientFromEnv() *TossClient {
	return &TossClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("TOSS_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("TOSS_API_BASE_URL", defaultTossAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *TossClient) Provider() string { return models.PaymentProviderToss }

// CreateCustomer derives a merchant-side customer key. Toss scopes customers
// to the merchant, so the key only has to be stable per email to be
// idempotent.
func (c *TossClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("email is required for a toss customer key")
	}
	sum := sha256.Sum256([]byte(email))
	return "tgcust_" + hex.EncodeToString(sum[:16]), nil
}

func (c *TossClient) CreateOneTimeIntent(ctx context.Context, in OneTimeIntentInput) (*Intent, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"method":     "CARD",
		"amount":     in.Amount,
		"currency":   in.Currency,
		"orderId":    in.Metadata["order_id"],
		"orderName":  in.OrderName,
		"successUrl": in.ReturnURL,
		"failUrl":    in.CancelURL,
	}
	if in.CustomerRef != "" {
		payload["customerKey"] = in.CustomerRef
	}

	var out struct {
		PaymentKey string `json:"paymentKey"`
		Checkout   struct {
			URL string `json:"url"`
		} `json:"checkout"`
	}
	if err := c.post(ctx, "/v1/payments", payload, &out); err != nil {
		return nil, err
	}
	if out.PaymentKey == "" || out.Checkout.URL == "" {
		return nil, fmt.Errorf("toss payment response missing paymentKey or checkout url")
	}
	return &Intent{Reference: out.PaymentKey, RedirectURL: out.Checkout.URL}, nil
}

// CreateRecurringPlan returns a merchant-side plan reference. Toss has no
// hosted plan object; the cadence is enforced locally, so the reference is
// derived deterministically and creating the same plan twice yields the same
// ref.
func (c *TossClient) CreateRecurringPlan(ctx context.Context, in RecurringPlanInput) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	return "tossplan_" + planKey(in), nil
}

func (c *TossClient) CreateSubscriptionIntent(ctx context.Context, in SubscriptionIntentInput) (*Intent, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if in.CustomerRef == "" {
		return nil, fmt.Errorf("customer ref is required for a toss billing authorization")
	}

	payload := map[string]interface{}{
		"customerKey": in.CustomerRef,
		"successUrl":  in.ReturnURL,
		"failUrl":     in.CancelURL,
	}
	var out struct {
		AuthKey  string `json:"authKey"`
		Checkout struct {
			URL string `json:"url"`
		} `json:"checkout"`
	}
	if err := c.post(ctx, "/v1/billing/authorizations", payload, &out); err != nil {
		return nil, err
	}
	if out.AuthKey == "" || out.Checkout.URL == "" {
		return nil, fmt.Errorf("toss billing authorization response missing authKey or checkout url")
	}
	return &Intent{Reference: out.AuthKey, RedirectURL: out.Checkout.URL}, nil
}

// CaptureOrVerify settles a one-time payment. The payment is fetched first to
// learn its order id and to catch double delivery: a payment that is already
// DONE verifies as succeeded without a second confirm.
func (c *TossClient) CaptureOrVerify(ctx context.Context, reference string, expectedAmount int64) (*CaptureResult, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	var payment struct {
		OrderID     string `json:"orderId"`
		Status      string `json:"status"`
		TotalAmount int64  `json:"totalAmount"`
	}
	if err := c.get(ctx, "/v1/payments/"+reference, &payment); err != nil {
		return nil, err
	}

	if expectedAmount > 0 && payment.TotalAmount != expectedAmount {
		return nil, fmt.Errorf("toss payment amount mismatch (got %d, want %d): %w", payment.TotalAmount, expectedAmount, ErrRejected)
	}

	switch payment.Status {
	case "DONE":
		return &CaptureResult{Succeeded: true, RawStatus: payment.Status}, nil
	case "READY", "IN_PROGRESS", "WAITING_FOR_DEPOSIT":
		confirm := map[string]interface{}{
			"paymentKey": reference,
			"orderId":    payment.OrderID,
			"amount":     payment.TotalAmount,
		}
		var confirmed struct {
			Status string `json:"status"`
		}
		if err := c.post(ctx, "/v1/payments/confirm", confirm, &confirmed); err != nil {
			return nil, err
		}
		return &CaptureResult{Succeeded: confirmed.Status == "DONE", RawStatus: confirmed.Status}, nil
	default:
		// CANCELED, ABORTED, EXPIRED and friends are terminal non-successes.
		return &CaptureResult{Succeeded: false, RawStatus: payment.Status}, nil
	}
}

func (c *TossClient) GetSubscriptionStatus(ctx context.Context, reference string) (SubscriptionStatus, error) {
	if err := c.configured(); err != nil {
		return StatusInactive, err
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/v1/billing/authorizations/"+reference, &out); err != nil {
		return StatusInactive, err
	}
	return tossBillingStatus(out.Status), nil
}

func tossBillingStatus(raw string) SubscriptionStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DONE", "ACTIVE":
		return StatusActive
	case "READY", "IN_PROGRESS", "WAITING_FOR_DEPOSIT":
		return StatusPendingApproval
	default:
		return StatusInactive
	}
}

func (c *TossClient) configured() error {
	if c.SecretKey == "" {
		return fmt.Errorf("TOSS_SECRET_KEY is missing: %w", ErrNotConfigured)
	}
	return nil
}

func (c *TossClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// Toss dedupes mutating calls on this header when the transport retries.
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.do(req, out)
}

func (c *TossClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *TossClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.SecretKey+":")))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("toss request failed: %v: %w", err, ErrUnreachable)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("toss auth failed (status=%d): %w", resp.StatusCode, ErrNotConfigured)
	case resp.StatusCode >= 500:
		return fmt.Errorf("toss server error (status=%d): %w", resp.StatusCode, ErrUnreachable)
	default:
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return fmt.Errorf("toss declined (status=%d code=%s): %w", resp.StatusCode, apiErr.Code, ErrRejected)
	}
}
