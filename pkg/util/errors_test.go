package util

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("lab", "a1b2c3d4")

	msg := err.Error()
	if !strings.Contains(msg, "lab") {
		t.Errorf("Error message should contain entity: %s", msg)
	}
	if !strings.Contains(msg, "a1b2c3d4") {
		t.Errorf("Error message should contain key: %s", msg)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("NotFoundError should unwrap to ErrNotFound")
	}
}

func TestConflictError(t *testing.T) {
	err := NewConflictError("user", "username", "alice")

	msg := err.Error()
	if !strings.Contains(msg, "user") || !strings.Contains(msg, "alice") {
		t.Errorf("Error message should contain entity and value: %s", msg)
	}
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("ConflictError should unwrap to ErrAlreadyExists")
	}
}

func TestImmutableFieldError(t *testing.T) {
	err := NewImmutableFieldError("link", "node_a")

	msg := err.Error()
	if !strings.Contains(msg, "link.node_a") {
		t.Errorf("Error message should name entity.field: %s", msg)
	}
	if !errors.Is(err, ErrImmutable) {
		t.Errorf("ImmutableFieldError should unwrap to ErrImmutable")
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		msg := err.Error()
		if !strings.Contains(msg, "field is required") {
			t.Errorf("Error message should contain the error: %s", msg)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid", "field3 out of range")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") || !strings.Contains(msg, "field3") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(true, "this should not appear")
		v.Add(true, "neither should this")

		if v.HasErrors() {
			t.Error("Should not have errors when all conditions are true")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() should return nil when no errors: %v", err)
		}
	})

	t.Run("with errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(false, "first error")
		v.Add(true, "this passes")
		v.Add(false, "second error")
		v.AddError("unconditional error")
		v.AddErrorf("formatted error: %d", 42)

		if !v.HasErrors() {
			t.Error("Should have errors")
		}

		err := v.Build()
		if err == nil {
			t.Fatal("Build() should return error")
		}

		validationErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Expected *ValidationError, got %T", err)
		}
		if len(validationErr.Errors) != 4 {
			t.Errorf("Expected 4 errors, got %d", len(validationErr.Errors))
		}
	})

	t.Run("chaining", func(t *testing.T) {
		err := (&ValidationBuilder{}).
			Add(false, "error1").
			Add(false, "error2").
			AddErrorf("error%d", 3).
			Build()

		if err == nil {
			t.Fatal("Expected error")
		}
		if !strings.Contains(err.Error(), "error1") {
			t.Errorf("Missing error1 in: %s", err.Error())
		}
	})
}

func TestInUseError(t *testing.T) {
	err := NewInUseError("node_image cisco_iosv/15.9", "node:3", "node:7")

	msg := err.Error()
	if !strings.Contains(msg, "node:3") || !strings.Contains(msg, "node:7") {
		t.Errorf("Error message should list dependents: %s", msg)
	}
	if !errors.Is(err, ErrInUse) {
		t.Errorf("InUseError should unwrap to ErrInUse")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Test that sentinel errors are distinct
	sentinels := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrPermissionDenied,
		ErrValidationFailed,
		ErrInUse,
		ErrImmutable,
		ErrExhausted,
		ErrUnavailable,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}

func TestErrorsIsWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"NotFoundError", NewNotFoundError("node", "r1"), ErrNotFound},
		{"ConflictError", NewConflictError("lab", "name", "hello"), ErrAlreadyExists},
		{"ImmutableFieldError", NewImmutableFieldError("lab", "user"), ErrImmutable},
		{"ValidationError", NewValidationError("msg"), ErrValidationFailed},
		{"InUseError", NewInUseError("image", "node:1"), ErrInUse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("%s should wrap %v", tt.name, tt.sentinel)
			}
		})
	}
}
