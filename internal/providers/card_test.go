package providers

import (
	"testing"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
)

func cardConfig() config.SquareConfig {
	return config.SquareConfig{
		AccessToken:   "sq_test_token",
		LocationID:    "LOC1",
		WebhookSecret: "whsec_card",
		Env:           "sandbox",
	}
}

func TestNewCardAdapterValidatesConfig(t *testing.T) {
	if _, err := NewCardAdapter(config.SquareConfig{Env: "sandbox"}, nil); err == nil {
		t.Fatal("expected error for missing access token")
	}
	cfg := cardConfig()
	cfg.WebhookSecret = ""
	if _, err := NewCardAdapter(cfg, nil); err == nil {
		t.Fatal("expected error for missing webhook secret")
	}
	cfg = cardConfig()
	cfg.Env = "staging"
	if _, err := NewCardAdapter(cfg, nil); err == nil {
		t.Fatal("expected error for invalid environment")
	}
	if _, err := NewCardAdapter(cardConfig(), nil); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestMapSquarePaymentStatus(t *testing.T) {
	cases := map[string]enums.TransactionStatus{
		"COMPLETED": enums.TransactionStatusCompleted,
		"APPROVED":  enums.TransactionStatusCompleted,
		"FAILED":    enums.TransactionStatusFailed,
		"CANCELED":  enums.TransactionStatusFailed,
		"PENDING":   enums.TransactionStatusProcessing,
		"unknown":   enums.TransactionStatusPending,
	}
	for input, want := range cases {
		if got := mapSquarePaymentStatus(input); got != want {
			t.Errorf("mapSquarePaymentStatus(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestCardMapWebhookEvent(t *testing.T) {
	adapter, err := NewCardAdapter(cardConfig(), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	payload := []byte(`{
		"event_id": "evt_sq_1",
		"type": "payment.updated",
		"data": {"object": {"payment": {"id": "pay_1", "status": "COMPLETED"}}}
	}`)
	event, err := adapter.MapWebhookEvent(payload)
	if err != nil {
		t.Fatalf("map webhook: %v", err)
	}
	if event.ProviderTransactionID != "pay_1" {
		t.Errorf("provider txn id = %q", event.ProviderTransactionID)
	}
	if event.NewStatus != enums.TransactionStatusCompleted {
		t.Errorf("status = %s, want completed", event.NewStatus)
	}

	if _, err := adapter.MapWebhookEvent([]byte(`{"event_id":"evt"}`)); err == nil {
		t.Fatal("expected error for missing payment id")
	}
}

func TestCardWebhookSignature(t *testing.T) {
	adapter, err := NewCardAdapter(cardConfig(), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	payload := []byte(`{"event_id":"evt_sq_1"}`)
	sig := signPayload("whsec_card", payload)
	if !adapter.VerifyWebhookSignature(payload, sig) {
		t.Fatal("valid signature rejected")
	}
	if adapter.VerifyWebhookSignature(payload, signPayload("other", payload)) {
		t.Fatal("invalid signature accepted")
	}
}
