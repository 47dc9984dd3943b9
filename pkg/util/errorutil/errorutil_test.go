package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestToDomainError(t *testing.T) {
	wrapped := fmt.Errorf("load item: %w", NewNotFound("item", nil))
	tests := []struct {
		name   string
		err    error
		kind   ErrorKind
		status int
	}{
		{"domain error passes through wrapping", wrapped, KindNotFound, http.StatusNotFound},
		{"deadline becomes transient", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTransient, http.StatusServiceUnavailable},
		{"plain error becomes internal", errors.New("boom"), KindInternal, http.StatusInternalServerError},
		{"business rule", NewBusinessRule(CodeNoAvailableAgent, "no available agent", nil), KindBusinessRule, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			if de.Kind != tt.kind || de.HTTPStatus != tt.status {
				t.Errorf("got %s/%d, want %s/%d", de.Kind, de.HTTPStatus, tt.kind, tt.status)
			}
		})
	}
	if ToDomainError(nil) != nil || MapError(nil) != nil {
		t.Error("nil error mapped to a domain error")
	}
}

func TestRetryable(t *testing.T) {
	for kind, want := range map[ErrorKind]bool{
		KindValidation:   false,
		KindNotFound:     false,
		KindAuth:         false,
		KindBusinessRule: true,
		KindTransient:    true,
		KindInternal:     true,
	} {
		if got := Retryable(kind); got != want {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("assign: %w", NewBusinessRule(CodeNoMatchingRule, "no rule", nil))
	if !IsCode(err, CodeNoMatchingRule) {
		t.Error("wrapped code not found")
	}
	if IsCode(err, CodeNoAvailableAgent) || IsCode(errors.New("x"), CodeNoMatchingRule) {
		t.Error("IsCode matched the wrong error")
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be empty")
	}
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransient("enqueue job", cause)
	if !errors.Is(err, cause) {
		t.Error("transient error does not unwrap to its cause")
	}
	if err.Error() != "enqueue job: connection reset" {
		t.Errorf("message = %q", err.Error())
	}
}
