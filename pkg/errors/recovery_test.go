package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRecover_WithPanic(t *testing.T) {
	fit := func() (err error) {
		defer Recover(&err, "RandomForest.Fit")
		panic("index out of range")
	}

	err := fit()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "RandomForest.Fit" {
		t.Errorf("Operation = %q", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if got, want := panicErr.Error(), "panic in RandomForest.Fit: index out of range"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRecover_WithoutPanic(t *testing.T) {
	fit := func() (err error) {
		defer Recover(&err, "RandomForest.Fit")
		return nil
	}
	if err := fit(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestRecover_WithExistingError(t *testing.T) {
	originalErr := fmt.Errorf("original error")

	fit := func() (err error) {
		defer Recover(&err, "Boruta.Fit")
		err = originalErr
		panic("panic after error")
	}

	err := fit()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "panic in Boruta.Fit") {
		t.Errorf("Error message should contain panic info: %s", err)
	}
	if !errors.Is(err, originalErr) {
		t.Error("Should be able to identify original error with errors.Is")
	}
}

func TestSafeExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		if err := SafeExecute("op", func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("function error passes through", func(t *testing.T) {
		want := fmt.Errorf("function error")
		if err := SafeExecute("op", func() error { return want }); err != want {
			t.Fatalf("got %v, want %v", err, want)
		}
	})

	t.Run("error panic unwraps", func(t *testing.T) {
		cause := fmt.Errorf("matrix dimension error")
		err := SafeExecute("op", func() error { panic(cause) })
		if !errors.Is(err, cause) {
			t.Fatalf("expected panic cause to be reachable, got %v", err)
		}
	})
}

func TestPanicError_String(t *testing.T) {
	panicErr := NewPanicError("TestOp", "test value")

	str := panicErr.String()
	if !strings.Contains(str, "Stack trace:") {
		t.Error("String() should include stack trace information")
	}
	if panicErr.Unwrap() != nil {
		t.Error("Unwrap() should return nil for non-error panic values")
	}
}

func BenchmarkRecover_NoPanic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		func() (err error) {
			defer Recover(&err, "BenchmarkOp")
			return nil
		}()
	}
}
