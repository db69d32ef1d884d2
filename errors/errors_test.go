package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorUnrecoverable, "unrecoverable"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no responders", ErrNoResponders, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid envelope", ErrInvalidEnvelope, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
		{"classified unrecoverable", &ClassifiedError{Class: ErrorUnrecoverable, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsUnrecoverable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"plain error", fmt.Errorf("boom"), false},
		{"marked unrecoverable", Unrecoverable(fmt.Errorf("bad argument")), true},
		{"wrapped unrecoverable", WrapUnrecoverable(fmt.Errorf("bad type"), "Handler", "Process", "decode payload"), true},
		// No pattern fallback: message text never makes an error unrecoverable.
		{"text mentioning unrecoverable", fmt.Errorf("unrecoverable situation"), false},
		{"transient stays transient", WrapTransient(fmt.Errorf("x"), "C", "M", "a"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsUnrecoverable(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrInvalidConfig) {
		t.Error("ErrInvalidConfig should be fatal")
	}
	if !IsFatal(ErrMissingConfig) {
		t.Error("ErrMissingConfig should be fatal")
	}
	if IsFatal(nil) {
		t.Error("nil should not be fatal")
	}
	if IsFatal(fmt.Errorf("ordinary")) {
		t.Error("ordinary errors should not be fatal")
	}
}

func TestIsInvalid(t *testing.T) {
	if !IsInvalid(ErrInvalidEnvelope) {
		t.Error("ErrInvalidEnvelope should be invalid")
	}
	if !IsInvalid(ErrParsingFailed) {
		t.Error("ErrParsingFailed should be invalid")
	}
	if IsInvalid(ErrConnectionLost) {
		t.Error("ErrConnectionLost should not be invalid")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults transient", nil, ErrorTransient},
		{"unknown defaults transient", fmt.Errorf("mystery"), ErrorTransient},
		{"invalid config", ErrInvalidConfig, ErrorFatal},
		{"invalid envelope", ErrInvalidEnvelope, ErrorInvalid},
		{"classified wins", WrapUnrecoverable(ErrInvalidConfig, "C", "M", "a"), ErrorUnrecoverable},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := fmt.Errorf("underlying")

	wrapped := Wrap(base, "Publisher", "Publish", "broker publish")
	if wrapped == nil {
		t.Fatal("expected non-nil")
	}
	if !strings.Contains(wrapped.Error(), "Publisher.Publish: broker publish failed") {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}

	if Wrap(nil, "C", "M", "a") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("underlying")

	transient := WrapTransient(base, "Consumer", "fetch", "batch fetch")
	if !IsTransient(transient) {
		t.Error("WrapTransient result should be transient")
	}
	if !errors.Is(transient, base) {
		t.Error("classified error should unwrap to base")
	}

	var ce *ClassifiedError
	if !errors.As(transient, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Consumer" || ce.Operation != "fetch" {
		t.Errorf("unexpected context: %+v", ce)
	}

	for _, fn := range []func(error, string, string, string) error{
		WrapTransient, WrapInvalid, WrapUnrecoverable, WrapFatal,
	} {
		if fn(nil, "C", "M", "a") != nil {
			t.Error("wrapping nil should return nil")
		}
	}
}

func TestUnrecoverable(t *testing.T) {
	if Unrecoverable(nil) != nil {
		t.Error("Unrecoverable(nil) should be nil")
	}

	base := fmt.Errorf("bad argument")
	marked := Unrecoverable(base)
	if !IsUnrecoverable(marked) {
		t.Error("marked error should be unrecoverable")
	}
	if marked.Error() != base.Error() {
		t.Errorf("message changed: %s", marked.Error())
	}
	if !errors.Is(marked, base) {
		t.Error("marked error should unwrap to base")
	}
}
