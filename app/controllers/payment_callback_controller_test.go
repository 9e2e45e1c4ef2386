package controllers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkang-dev/ToonGate/internal/pkg/billing"
)

func TestWebhookCallbackInputStripe(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_123",
				"subscription": "sub_456",
				"metadata": {"plan": "membership", "user_id": "42"}
			}
		}
	}`)

	var envelope webhookEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))

	input, ok := webhookCallbackInput("stripe", envelope)
	require.True(t, ok)
	assert.Equal(t, "membership", input.PlanName)
	assert.Equal(t, "cs_test_123", input.Reference)
	assert.Equal(t, "sub_456", input.SubscriptionRef)
	assert.Equal(t, billing.UserSubject{UserID: 42}, input.Subject)
}

func TestWebhookCallbackInputToss(t *testing.T) {
	payload := []byte(`{
		"eventType": "PAYMENT_STATUS_CHANGED",
		"data": {
			"paymentKey": "pay_abc",
			"metadata": {"plan": "daypass", "session_id": "anon-token"}
		}
	}`)

	var envelope webhookEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))

	input, ok := webhookCallbackInput("toss", envelope)
	require.True(t, ok)
	assert.Equal(t, "daypass", input.PlanName)
	assert.Equal(t, "pay_abc", input.Reference)
	assert.Equal(t, billing.AnonymousSubject{SessionID: "anon-token"}, input.Subject)
}

func TestWebhookCallbackInputRejectsUnusableDeliveries(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "no metadata", payload: `{"id":"evt_2","data":{"object":{"id":"cs_1"}}}`},
		{name: "no reference", payload: `{"id":"evt_3","data":{"object":{"metadata":{"plan":"daypass","session_id":"s"}}}}`},
		{name: "no subject", payload: `{"id":"evt_4","data":{"object":{"id":"cs_1","metadata":{"plan":"daypass"}}}}`},
		{name: "bad user id", payload: `{"id":"evt_5","data":{"object":{"id":"cs_1","metadata":{"plan":"daypass","user_id":"abc"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var envelope webhookEnvelope
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &envelope))

			_, ok := webhookCallbackInput("stripe", envelope)
			assert.False(t, ok)
		})
	}
}

func TestReasonMessagesCoverAllCodes(t *testing.T) {
	for _, reason := range []string{
		billing.ReasonProviderDeclined,
		billing.ReasonVerifyFailed,
		billing.ReasonTimeoutRetry,
		billing.ReasonUnknownPlan,
		billing.ReasonIdentityRequired,
		billing.ReasonIdentityMismatch,
		billing.ReasonNotConfigured,
	} {
		msg, ok := reasonMessages[reason]
		assert.True(t, ok, "missing message for %s", reason)
		assert.NotEmpty(t, msg)
	}
}
