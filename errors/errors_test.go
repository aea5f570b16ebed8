package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeStall struct{}

func (fakeStall) Error() string { return "stalled" }
func (fakeStall) Stalled() bool { return true }

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorStall, "stall"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"backend fault", ErrBackendFault, ErrorTransient},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"duplicate feeder", ErrDuplicateFeeder, ErrorFatal},
		{"wrapped missing trigger", fmt.Errorf("net x: %w", ErrMissingTrigger), ErrorFatal},
		{"unknown variable", ErrUnknownVariable, ErrorInvalid},
		{"classified fatal", WrapFatal(errors.New("boom"), "Graph", "Validate", "check"), ErrorFatal},
		{"classified transient", WrapTransient(errors.New("io"), "Device", "Read", "transfer"), ErrorTransient},
		{"stall", fakeStall{}, ErrorStall},
		{"wrapped stall", fmt.Errorf("step: %w", fakeStall{}), ErrorStall},
		{"unknown", errors.New("something"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for %v", test.expected, got, test.err)
			}
		})
	}
}

func TestStallIsNeverAbsorbed(t *testing.T) {
	err := fmt.Errorf("driver: %w", fakeStall{})

	if IsTransient(err) {
		t.Error("stall must not be transient")
	}
	if IsFatal(err) {
		t.Error("stall must not be fatal")
	}
	if IsInvalid(err) {
		t.Error("stall must not be invalid")
	}
	if DefaultRetryConfig().ShouldRetry(err, 0) {
		t.Error("stall must never be retried")
	}
	if !IsStall(err) {
		t.Error("IsStall should see through wrapping")
	}
}

func TestWrapFormat(t *testing.T) {
	err := WrapFatal(ErrTypeMismatch, "Network", "AddNode", "consumer type check")

	want := "Network.AddNode: consumer type check failed: value type mismatch"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("sentinel should survive wrapping")
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Network" || ce.Operation != "AddNode" {
		t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
	}

	if Wrap(nil, "a", "b", "c") != nil || WrapFatal(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestFatalf(t *testing.T) {
	err := Fatalf(ErrMissingTrigger, "Graph", "Validate", "network %q", "/dev/temp")

	if !IsFatal(err) {
		t.Error("Fatalf must produce a fatal error")
	}
	if !errors.Is(err, ErrMissingTrigger) {
		t.Error("Fatalf must keep the sentinel")
	}
	if !strings.Contains(err.Error(), `"/dev/temp"`) {
		t.Errorf("detail missing from %q", err.Error())
	}
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()

	if !rc.ShouldRetry(ErrBackendFault, 0) {
		t.Error("backend faults should be retried")
	}
	if rc.ShouldRetry(ErrBackendFault, rc.MaxRetries) {
		t.Error("should stop after MaxRetries")
	}
	if rc.ShouldRetry(ErrIllegalNetwork, 0) {
		t.Error("configuration errors are never retried")
	}

	cfg := rc.ToRetryConfig()
	if cfg.MaxAttempts != rc.MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", rc.MaxRetries+1, cfg.MaxAttempts)
	}
}
