package mail

import (
	"strings"
	"testing"
)

func TestBuildMessageIncludesHeadersAndBody(t *testing.T) {
	msg := string(BuildMessage("noreply@edureuse.local", []string{"a@example.com", "b@example.com"}, "Hello", "line one\nline two"))

	for _, want := range []string{
		"From: noreply@edureuse.local\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Subject: Hello\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\nline one\nline two") &&
		!strings.Contains(msg, "\r\n\r\nline one\nline two") {
		t.Fatalf("message body not separated from headers:\n%s", msg)
	}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	if _, err := NewSMTPMailer("", "", "", "noreply@edureuse.local"); err == nil {
		t.Fatalf("expected error for missing addr")
	}
	if _, err := NewSMTPMailer("localhost:1025", "", "", ""); err == nil {
		t.Fatalf("expected error for missing from address")
	}
	if _, err := NewSMTPMailer("localhost:1025", "", "", "noreply@edureuse.local"); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
