package authflow

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
)

func TestClassifySentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid code", tgerr.New(400, "PHONE_CODE_INVALID"), ErrInvalidCode},
		{"expired code", tgerr.New(400, "PHONE_CODE_EXPIRED"), ErrCodeExpired},
		{"revoked key", tgerr.New(401, "AUTH_KEY_UNREGISTERED"), ErrNotAuthenticated},
		{"revoked session", tgerr.New(401, "SESSION_REVOKED"), ErrNotAuthenticated},
		{"bad password", tgerr.New(400, "PASSWORD_HASH_INVALID"), ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyInputErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		field string
	}{
		{"invalid phone", tgerr.New(400, "PHONE_NUMBER_INVALID"), "phoneNumber"},
		{"banned phone", tgerr.New(400, "PHONE_NUMBER_BANNED"), "phoneNumber"},
		{"invalid api id", tgerr.New(400, "API_ID_INVALID"), "apiId"},
		{"flooded api id", tgerr.New(400, "API_ID_PUBLISHED_FLOOD"), "apiId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inputErr *InputError
			if got := Classify(tt.err); !errors.As(got, &inputErr) {
				t.Fatalf("Classify(%v) = %v, want InputError", tt.err, got)
			}
			if inputErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", inputErr.Field, tt.field)
			}
		})
	}
}

func TestClassifyFloodWait(t *testing.T) {
	t.Parallel()

	var retryErr *RetryAfterError
	if got := Classify(tgerr.New(420, "FLOOD_WAIT_30")); !errors.As(got, &retryErr) {
		t.Fatalf("want RetryAfterError, got %v", got)
	}
	if retryErr.Wait != 30*time.Second {
		t.Errorf("Wait = %s, want 30s", retryErr.Wait)
	}
}

func TestClassifyPassthrough(t *testing.T) {
	t.Parallel()

	// Нераспознанная ошибка уходит наверх как есть.
	original := errors.New("boom")
	if got := Classify(original); !errors.Is(got, original) {
		t.Errorf("Classify(boom) = %v, want original error", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) must be nil")
	}
}
