package security

import (
	"testing"
	"time"
)

func TestCheckoutStateRoundTrip(t *testing.T) {
	claims := CheckoutStateClaims{
		UserID:   42,
		Plan:     "membership",
		Provider: "stripe",
	}

	token, err := GenerateCheckoutState(claims, time.Hour, "secret")
	if err != nil {
		t.Fatalf("unexpected generate error: %v", err)
	}

	got, err := VerifyCheckoutState(token, "secret")
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if got.UserID != 42 || got.Plan != "membership" || got.Provider != "stripe" {
		t.Fatalf("claims did not round-trip: %+v", got)
	}
}

func TestCheckoutStateRejectsTampering(t *testing.T) {
	token, err := GenerateCheckoutState(CheckoutStateClaims{SessionID: "anon-1", Plan: "daypass"}, time.Hour, "secret")
	if err != nil {
		t.Fatalf("unexpected generate error: %v", err)
	}

	if _, err := VerifyCheckoutState(token, "other-secret"); err == nil {
		t.Fatalf("expected verification with wrong secret to fail")
	}
	if _, err := VerifyCheckoutState(token+"x", "secret"); err == nil {
		t.Fatalf("expected tampered token to fail")
	}
	if _, err := VerifyCheckoutState("garbage", "secret"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
}

func TestCheckoutStateExpires(t *testing.T) {
	token, err := GenerateCheckoutState(CheckoutStateClaims{Plan: "daypass"}, -time.Minute, "secret")
	if err != nil {
		t.Fatalf("unexpected generate error: %v", err)
	}
	if _, err := VerifyCheckoutState(token, "secret"); err == nil {
		t.Fatalf("expected expired state to fail verification")
	}
}
