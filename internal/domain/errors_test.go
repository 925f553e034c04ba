package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnreachableError_Error(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
		want string
	}{
		{
			name: "with underlying error",
			url:  "https://example.com/a.bin",
			err:  errors.New("no such host"),
			want: "resource unreachable: https://example.com/a.bin: no such host",
		},
		{
			name: "without underlying error",
			url:  "https://example.com/a.bin",
			err:  nil,
			want: "resource unreachable: https://example.com/a.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := NewUnreachableError(tt.url, tt.err)
			if got := ue.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unreachable error",
			err:  NewUnreachableError("https://example.com", errors.New("err")),
			want: true,
		},
		{
			name: "wrapped unreachable error",
			err:  fmt.Errorf("wrapped: %w", NewUnreachableError("https://example.com", nil)),
			want: true,
		},
		{
			name: "regular error",
			err:  errors.New("regular error"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "transient error is not unreachable",
			err:  NewTransientError(errors.New("err")),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Errorf("IsUnreachable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransientError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "with underlying error",
			err:  errors.New("connection reset"),
			want: "connection reset",
		},
		{
			name: "nil error",
			err:  nil,
			want: "transient network error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := NewTransientError(tt.err)
			if got := te.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "transient error",
			err:  NewTransientError(errors.New("timeout")),
			want: true,
		},
		{
			name: "wrapped transient error",
			err:  fmt.Errorf("attempt 2: %w", NewTransientError(errors.New("timeout"))),
			want: true,
		},
		{
			name: "unreachable error is not transient",
			err:  NewUnreachableError("https://example.com", errors.New("404")),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIncompleteTransferError_Error(t *testing.T) {
	ie := &IncompleteTransferError{Expected: 1000, Actual: 400}
	want := "incomplete transfer: expected 1000 bytes, wrote 400"
	if got := ie.Error(); got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}

	if !IsIncomplete(ie) {
		t.Error("IsIncomplete() = false, want true")
	}
	if !IsIncomplete(fmt.Errorf("finalize: %w", ie)) {
		t.Error("IsIncomplete() on wrapped error = false, want true")
	}
	if IsIncomplete(errors.New("other")) {
		t.Error("IsIncomplete() on regular error = true, want false")
	}
}

func TestDestinationError(t *testing.T) {
	underlying := errors.New("permission denied")
	de := NewDestinationError("/data/out.bin", underlying)

	want := "destination /data/out.bin: permission denied"
	if got := de.Error(); got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}

	if got := de.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	if !IsDestination(de) {
		t.Error("IsDestination() = false, want true")
	}
	if IsDestination(NewTransientError(underlying)) {
		t.Error("IsDestination() on transient error = true, want false")
	}
}

func TestExhaustedError(t *testing.T) {
	last := NewTransientError(errors.New("connection reset"))
	ee := &ExhaustedError{Attempts: 4, LastErr: last}

	want := "giving up after 4 attempts: connection reset"
	if got := ee.Error(); got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}

	// The transient cause stays visible through the wrapper.
	if !IsTransient(ee) {
		t.Error("IsTransient() through ExhaustedError = false, want true")
	}
}

func TestErrorsAsUnwrap(t *testing.T) {
	ue := NewUnreachableError("https://example.com", ErrEmptyURL)
	if !errors.Is(ue, ErrEmptyURL) {
		t.Error("UnreachableError should unwrap to ErrEmptyURL")
	}

	te := NewTransientError(ErrRangeNotSupported)
	if !errors.Is(te, ErrRangeNotSupported) {
		t.Error("TransientError should unwrap to ErrRangeNotSupported")
	}
}
