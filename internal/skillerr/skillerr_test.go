package skillerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestUserMessage_TaxonomyErrorReturnsMessage(t *testing.T) {
	err := Wrap(CodeUpstream, "upstream server unavailable", errors.New("dial tcp 10.0.0.1:443: connection refused"))
	if got := UserMessage(err); got != "upstream server unavailable" {
		t.Fatalf("got %q", got)
	}
}

func TestUserMessage_RawErrorIsRedacted(t *testing.T) {
	raw := fmt.Errorf("open /etc/skillflow/secrets.yaml: permission denied")
	got := UserMessage(raw)
	if got == raw.Error() {
		t.Fatal("raw error text leaked into user message")
	}
	if got != "an internal error occurred" {
		t.Fatalf("got %q", got)
	}
}

func TestCodeOf_UnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(CodeNotFound, "skill not found")
	wrapped := fmt.Errorf("engine: %w", inner)
	if CodeOf(wrapped) != CodeNotFound {
		t.Fatalf("got %v", CodeOf(wrapped))
	}
}

func TestCodeOf_NonTaxonomyErrorDefaultsInternal(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatal("expected CodeInternal default")
	}
}

func TestRedact_ProducesSafeToolResult(t *testing.T) {
	err := Wrap(CodeTimeout, "server did not respond in time", errors.New("context deadline exceeded at internal/transport/stdio.go:142"))
	result := Redact(err)
	if result.Code != CodeTimeout {
		t.Fatalf("code = %v", result.Code)
	}
	if result.Message != "server did not respond in time" {
		t.Fatalf("message = %q", result.Message)
	}
}
