package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	fn()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLog_RedactsEmailFields(t *testing.T) {
	entry := capture(t, func() {
		Info("subscribed", "email", "john.doe@example.com")
	})
	if got := entry["email"]; got != "jo***@example.com" {
		t.Errorf("email field = %v, want redacted", got)
	}
}

func TestLog_RedactsEmbeddedEmails(t *testing.T) {
	entry := capture(t, func() {
		Error("send failed", "err", "rejected recipient alice@example.com")
	})
	if s, _ := entry["err"].(string); strings.Contains(s, "alice@") {
		t.Errorf("embedded address not redacted: %v", s)
	}
}

func TestAudit_TagsEntry(t *testing.T) {
	entry := capture(t, func() {
		Audit("newsletter opt-out", "reason", "too many emails")
	})
	if entry["audit"] != "true" {
		t.Errorf("audit tag missing: %v", entry)
	}
	if entry["reason"] != "too many emails" {
		t.Errorf("reason = %v", entry["reason"])
	}
}
