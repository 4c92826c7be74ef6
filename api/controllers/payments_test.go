package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/api/middleware"
	"github.com/dmtorres-dev/vpnpay-backend/internal/payments"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/auth"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db/models"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/enums"
	pkgerrors "github.com/dmtorres-dev/vpnpay-backend/pkg/errors"
)

type stubPaymentsService struct {
	result *payments.Result
	err    error
	got    *payments.Request
}

func (s *stubPaymentsService) ProcessPayment(ctx context.Context, req payments.Request) (*payments.Result, error) {
	s.got = &req
	return s.result, s.err
}

type stubTransactionReader struct {
	txn *models.PaymentTransaction
	err error
}

func (s stubTransactionReader) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.txn, s.err
}

func TestCreatePaymentSuccess(t *testing.T) {
	userID := uuid.New()
	svc := &stubPaymentsService{result: &payments.Result{
		TransactionID: uuid.New(),
		Status:        enums.TransactionStatusPending,
		FraudScore:    0.12,
		Continuation:  map[string]string{"approval_url": "https://wallet.example/approve/1"},
	}}
	handler := CreatePayment(svc, nil)

	body := `{"plan_id":"vpn-monthly","amount":"9.99","currency":"USD","provider":"WALLET_APPROVAL"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data paymentResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != "pending" {
		t.Fatalf("unexpected status: %s", envelope.Data.Status)
	}
	if envelope.Data.Continuation["approval_url"] == "" {
		t.Fatal("expected continuation to carry the approval url")
	}
	if svc.got == nil || svc.got.UserID != userID {
		t.Fatal("expected user id from the request context")
	}
	if svc.got.Provider != enums.PaymentProviderWalletApproval {
		t.Fatalf("unexpected provider: %s", svc.got.Provider)
	}
}

func TestCreatePaymentUnknownProvider(t *testing.T) {
	handler := CreatePayment(&stubPaymentsService{}, nil)

	body := `{"plan_id":"vpn-monthly","amount":"9.99","currency":"USD","provider":"CHECK"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCreatePaymentFraudSuspected(t *testing.T) {
	svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeFraudSuspected, "score above threshold")}
	handler := CreatePayment(svc, nil)

	body := `{"plan_id":"vpn-monthly","amount":"9.99","currency":"USD","provider":"CARD","source_token":"tok_1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "threshold") {
		t.Fatal("fraud rationale must not leak to the caller")
	}
}

func TestCreatePaymentMissingIdentity(t *testing.T) {
	handler := CreatePayment(&stubPaymentsService{}, nil)

	body := `{"plan_id":"vpn-monthly","amount":"9.99","currency":"USD","provider":"CARD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func getTransactionRequest(t *testing.T, txnID uuid.UUID) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+txnID.String(), nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("transactionId", txnID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestGetTransactionOwner(t *testing.T) {
	userID := uuid.New()
	txn := &models.PaymentTransaction{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    "vpn-monthly",
		Amount:    decimal.RequireFromString("9.99"),
		Currency:  "USD",
		Provider:  enums.PaymentProviderCard,
		Status:    enums.TransactionStatusCompleted,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	handler := GetTransaction(stubTransactionReader{txn: txn}, nil)

	req := getTransactionRequest(t, txn.ID)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data transactionResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.TransactionID != txn.ID {
		t.Fatalf("unexpected transaction id: %s", envelope.Data.TransactionID)
	}
}

func TestGetTransactionOtherUserHidden(t *testing.T) {
	txn := &models.PaymentTransaction{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: enums.TransactionStatusCompleted,
	}
	handler := GetTransaction(stubTransactionReader{txn: txn}, nil)

	req := getTransactionRequest(t, txn.ID)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	// Hidden, not forbidden: existence must not leak across users.
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestGetTransactionOperatorSeesAll(t *testing.T) {
	txn := &models.PaymentTransaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Status:    enums.TransactionStatusCompleted,
		Amount:    decimal.RequireFromString("9.99"),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	handler := GetTransaction(stubTransactionReader{txn: txn}, nil)

	req := getTransactionRequest(t, txn.ID)
	ctx := middleware.WithUserID(req.Context(), uuid.NewString())
	ctx = middleware.WithRole(ctx, auth.RoleOperator)
	req = req.WithContext(ctx)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
