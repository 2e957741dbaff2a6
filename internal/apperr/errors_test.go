package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	cases := []struct {
		name       string
		err        *Error
		wantKind   Kind
		wantCode   string
		wantStatus int
		wantMsg    string
	}{
		{name: "validation", err: Validation("Bad name", "name"), wantKind: KindValidation, wantCode: CodeValidation, wantStatus: http.StatusBadRequest, wantMsg: "Bad name"},
		{name: "not found default", err: NotFound(""), wantKind: KindNotFound, wantCode: CodeNotFound, wantStatus: http.StatusNotFound, wantMsg: "Resource not found"},
		{name: "unauthorized", err: Unauthorized("Session required"), wantKind: KindUnauthorized, wantCode: CodeUnauthorized, wantStatus: http.StatusUnauthorized, wantMsg: "Session required"},
		{name: "rate limited", err: RateLimited(5), wantKind: KindRateLimited, wantCode: CodeRateLimited, wantStatus: http.StatusTooManyRequests, wantMsg: "Rate limited"},
		{name: "internal", err: Internal("", nil), wantKind: KindInternal, wantCode: CodeInternal, wantStatus: http.StatusInternalServerError, wantMsg: "Internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.wantKind {
				t.Fatalf("expected kind %q, got %q", tc.wantKind, tc.err.Kind)
			}
			if tc.err.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, tc.err.Code)
			}
			if tc.err.Status != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, tc.err.Status)
			}
			if tc.err.Error() != tc.wantMsg {
				t.Fatalf("expected message %q, got %q", tc.wantMsg, tc.err.Error())
			}
		})
	}
}

func TestValidationOmitsEmptyField(t *testing.T) {
	if err := Validation("nope", ""); err.Data != nil {
		t.Fatalf("expected no data without a field, got %#v", err.Data)
	}
	err := Validation("Email already taken", "email")
	data, ok := err.Data.(ValidationData)
	if !ok || data.Field != "email" {
		t.Fatalf("expected field data, got %#v", err.Data)
	}
}

func TestRateLimitedClampsRetryAfter(t *testing.T) {
	data, ok := RateLimited(0).Data.(RateLimitData)
	if !ok {
		t.Fatalf("expected rate limit data")
	}
	if data.RetryAfter != 1 {
		t.Fatalf("expected retryAfter clamped to 1, got %d", data.RetryAfter)
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", NotFound("User not found"))
	target, ok := As(wrapped)
	if !ok {
		t.Fatal("expected taxonomy error in chain")
	}
	if target.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", target.Code)
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatal("expected Is to match kind")
	}
	if _, ok := As(errors.New("boom")); ok {
		t.Fatal("plain error must not match")
	}
}

func TestInternalUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("lookup failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}
