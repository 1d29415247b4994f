package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeStaleCache, "missing atom: %s", "dev-libs/foo")

	if err.Code != ErrCodeStaleCache {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStaleCache)
	}

	if err.Message != "missing atom: dev-libs/foo" {
		t.Errorf("Message = %v, want %v", err.Message, "missing atom: dev-libs/foo")
	}

	expected := "STALE_CACHE: missing atom: dev-libs/foo"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeMalformedStore, cause, "failed to load")

	if err.Code != ErrCodeMalformedStore {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeMalformedStore)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	joined := errors.Join(
		New(ErrCodeMissingMandatoryField, "foo.0"),
		New(ErrCodeMissingMandatoryField, "bar.0"),
	)

	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeProtectedPath, "test"),
			code:     ErrCodeProtectedPath,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeProtectedPath, "test"),
			code:     ErrCodeStaleCache,
			expected: false,
		},
		{
			name:     "outer code of wrapped error",
			err:      Wrap(ErrCodeMalformedStore, New(ErrCodeInvalidInput, "inner"), "outer"),
			code:     ErrCodeMalformedStore,
			expected: true,
		},
		{
			name:     "inner code of wrapped error",
			err:      Wrap(ErrCodeMalformedStore, New(ErrCodeInvalidInput, "inner"), "outer"),
			code:     ErrCodeInvalidInput,
			expected: true,
		},
		{
			name:     "code inside joined cause",
			err:      Wrap(ErrCodeMalformedStore, joined, "load"),
			code:     ErrCodeMissingMandatoryField,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidAtom, "test"),
			expected: ErrCodeInvalidAtom,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			expected: "",
		},
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidInput, "friendly message"),
			expected: "friendly message",
		},
		{
			name:     "plain error",
			err:      errors.New("plain error"),
			expected: "plain error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrCodeProtectedPath, "x"), true},
		{New(ErrCodeInspectionFailure, "x"), true},
		{New(ErrCodeAuxSpecParse, "x"), true},
		{New(ErrCodeStaleCache, "x"), false},
		{New(ErrCodeMalformedStore, "x"), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
