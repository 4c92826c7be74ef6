package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeInvalidRequest, status: http.StatusBadRequest, publicMsg: "invalid request", detailsOK: true},
		{code: CodeFraudSuspected, status: http.StatusUnprocessableEntity, publicMsg: "payment declined pending review"},
		{code: CodeProviderUnavailable, status: http.StatusServiceUnavailable, publicMsg: "payment provider unavailable", retryable: true},
		{code: CodeProviderRejected, status: http.StatusPaymentRequired, publicMsg: "payment declined by provider", detailsOK: true},
		{code: CodeInvalidTransition, status: http.StatusConflict, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeSignatureInvalid, status: http.StatusBadRequest, publicMsg: "signature verification failed"},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeInvalidRequest, "missing amount")
	if base.Code() != CodeInvalidRequest {
		t.Fatalf("expected invalid request code, got %s", base.Code())
	}
	if base.Message() != "missing amount" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	cause := stdErrors.New("underlying")
	wrapped := Wrap(CodeDependency, cause, "provider call")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("wrapped error should unwrap to cause")
	}
	if As(wrapped) == nil {
		t.Fatal("As should find typed error")
	}
}

func TestIsCodeAndRetryable(t *testing.T) {
	err := New(CodeProviderUnavailable, "timeout")
	if !IsCode(err, CodeProviderUnavailable) {
		t.Fatal("expected IsCode match")
	}
	if IsCode(err, CodeProviderRejected) {
		t.Fatal("unexpected IsCode match")
	}
	if !Retryable(err) {
		t.Fatal("provider unavailable should be retryable")
	}
	if Retryable(New(CodeProviderRejected, "declined")) {
		t.Fatal("provider rejected should not be retryable")
	}
	if Retryable(stdErrors.New("plain")) {
		t.Fatal("untyped errors are not retryable")
	}
}
