package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:    http.StatusBadRequest,
		KindNotFound:      http.StatusNotFound,
		KindConflict:      http.StatusConflict,
		KindResourceLimit: http.StatusTooManyRequests,
		KindSecurity:      http.StatusForbidden,
		KindTimeout:       http.StatusGatewayTimeout,
		KindTraining:      http.StatusInternalServerError,
		KindPrediction:    http.StatusInternalServerError,
		KindStorage:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Storage(cause, "failed to save version %s", "v1")

	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to unwrap to cause")
	}
	if wrapped.Kind != KindStorage {
		t.Errorf("expected KindStorage, got %s", wrapped.Kind)
	}
}

func TestFailEnvelope(t *testing.T) {
	err := Validation("owner_id is required")
	env, status := Fail(err)

	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if env.Status != "error" {
		t.Errorf("expected status=error, got %s", env.Status)
	}
	if env.Message != "owner_id is required" {
		t.Errorf("unexpected message: %s", env.Message)
	}
}

func TestFailOnPlainError(t *testing.T) {
	_, status := Fail(errors.New("unexpected"))
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500 for untyped error, got %d", status)
	}
}
