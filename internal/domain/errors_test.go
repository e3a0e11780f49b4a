package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"validation", &ValidationError{Field: "password", Message: "weak"}, KindValidation},
		{"wrapped validation", fmt.Errorf("register: %w", &ValidationError{Field: "password"}), KindValidation},
		{"provider", &ProviderError{Code: CodeWrongPassword}, KindProvider},
		{"cancelled", fmt.Errorf("login: %w", ErrUserCancelled), KindCancelled},
		{"cancelled provider error", &ProviderError{Code: CodePopupClosed, Err: ErrUserCancelled}, KindCancelled},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderCode(t *testing.T) {
	err := fmt.Errorf("login: %w", &ProviderError{Code: CodeWrongPassword, Message: "INVALID_PASSWORD"})
	if got := ProviderCode(err); got != CodeWrongPassword {
		t.Fatalf("ProviderCode = %q", got)
	}
	if got := ProviderCode(ErrUserCancelled); got != CodePopupClosed {
		t.Fatalf("ProviderCode(cancelled) = %q", got)
	}
	if got := ProviderCode(errors.New("x")); got != "" {
		t.Fatalf("ProviderCode(plain) = %q", got)
	}
}
