package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTossClient(baseURL string) *TossClient {
	return &TossClient{
		SecretKey:  "test_sk_dummy",
		APIBaseURL: baseURL,
		HTTPClient: &http.Client{Timeout: time.Second},
	}
}

func TestTossNotConfigured(t *testing.T) {
	c := &TossClient{HTTPClient: &http.Client{}}

	_, err := c.CreateOneTimeIntent(context.Background(), OneTimeIntentInput{})
	require.Error(t, err)
	assert.True(t, IsNotConfigured(err))

	_, err = c.CaptureOrVerify(context.Background(), "pay_x", 0)
	assert.True(t, IsNotConfigured(err))
}

func TestTossCreateCustomerIsDeterministic(t *testing.T) {
	c := newTestTossClient("http://unused.invalid")

	a, err := c.CreateCustomer(context.Background(), "reader@example.com", "Reader")
	require.NoError(t, err)
	b, err := c.CreateCustomer(context.Background(), "Reader@Example.com ", "")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same email must map to the same customer key")

	other, err := c.CreateCustomer(context.Background(), "other@example.com", "")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = c.CreateCustomer(context.Background(), "", "")
	assert.Error(t, err)
}

func TestTossCreateOneTimeIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 5000, body["amount"])
		assert.Equal(t, "order-1", body["orderId"])

		w.Write([]byte(`{"paymentKey":"pay_abc","checkout":{"url":"https://pay.example/abc"}}`))
	}))
	defer srv.Close()

	c := newTestTossClient(srv.URL)
	intent, err := c.CreateOneTimeIntent(context.Background(), OneTimeIntentInput{
		Amount:    5000,
		Currency:  "KRW",
		OrderName: "daypass",
		ReturnURL: "https://toongate.example/payment/callback",
		CancelURL: "https://toongate.example/payment/failed",
		Metadata:  map[string]string{"order_id": "order-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_abc", intent.Reference)
	assert.Equal(t, "https://pay.example/abc", intent.RedirectURL)
}

func TestTossCaptureOrVerify_ConfirmsReadyPayment(t *testing.T) {
	confirms := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/pay_abc":
			w.Write([]byte(`{"orderId":"order-1","status":"READY","totalAmount":5000}`))
		case "/v1/payments/confirm":
			confirms++
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "pay_abc", body["paymentKey"])
			assert.Equal(t, "order-1", body["orderId"])
			w.Write([]byte(`{"status":"DONE"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestTossClient(srv.URL)
	res, err := c.CaptureOrVerify(context.Background(), "pay_abc", 5000)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "DONE", res.RawStatus)
	assert.Equal(t, 1, confirms)
}

func TestTossCaptureOrVerify_AlreadyDoneSkipsConfirm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/pay_abc", r.URL.Path)
		w.Write([]byte(`{"orderId":"order-1","status":"DONE","totalAmount":5000}`))
	}))
	defer srv.Close()

	c := newTestTossClient(srv.URL)
	res, err := c.CaptureOrVerify(context.Background(), "pay_abc", 5000)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
}

func TestTossCaptureOrVerify_AmountMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":"order-1","status":"READY","totalAmount":100}`))
	}))
	defer srv.Close()

	c := newTestTossClient(srv.URL)
	_, err := c.CaptureOrVerify(context.Background(), "pay_abc", 5000)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestTossCaptureOrVerify_TerminalFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":"order-1","status":"ABORTED","totalAmount":5000}`))
	}))
	defer srv.Close()

	c := newTestTossClient(srv.URL)
	res, err := c.CaptureOrVerify(context.Background(), "pay_abc", 5000)
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, "ABORTED", res.RawStatus)
}

func TestTossErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		check   func(error) bool
		checkID string
	}{
		{name: "declined", status: http.StatusBadRequest, check: IsRejected, checkID: "rejected"},
		{name: "auth", status: http.StatusUnauthorized, check: IsNotConfigured, checkID: "not configured"},
		{name: "server error", status: http.StatusBadGateway, check: IsUnreachable, checkID: "unreachable"},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"code":"SOME_CODE","message":"nope"}`))
		}))

		c := newTestTossClient(srv.URL)
		_, err := c.CaptureOrVerify(context.Background(), "pay_abc", 0)
		if err == nil || !tt.check(err) {
			t.Fatalf("%s: expected %s error, got %v", tt.name, tt.checkID, err)
		}
		srv.Close()
	}
}

func TestTossUnreachable(t *testing.T) {
	c := newTestTossClient("http://127.0.0.1:1")
	_, err := c.CaptureOrVerify(context.Background(), "pay_abc", 0)
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestTossRecurringPlanIsIdempotent(t *testing.T) {
	c := newTestTossClient("http://unused.invalid")
	in := RecurringPlanInput{Name: "Membership", Amount: 3000, Currency: "KRW", Cadence: "weekly"}

	a, err := c.CreateRecurringPlan(context.Background(), in)
	require.NoError(t, err)
	b, err := c.CreateRecurringPlan(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "tossplan_membership-3000-KRW-weekly", a)
}

func TestTossBillingStatusMapping(t *testing.T) {
	tests := []struct {
		in   string
		want SubscriptionStatus
	}{
		{in: "DONE", want: StatusActive},
		{in: "READY", want: StatusPendingApproval},
		{in: "IN_PROGRESS", want: StatusPendingApproval},
		{in: "EXPIRED", want: StatusInactive},
		{in: "", want: StatusInactive},
	}

	for _, tt := range tests {
		if got := tossBillingStatus(tt.in); got != tt.want {
			t.Fatalf("tossBillingStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
