package email

import (
	"strings"
	"testing"
	"time"
)

var testInvitation = Invitation{
	To:       "bob@example.com",
	LockName: "Front Door",
	KeyName:  "bob",
	Link:     "https://lock.example.com/invite/abc",
	Expires:  time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC),
}

func TestInvitationBody(t *testing.T) {
	html, err := testInvitation.html()
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	for _, want := range []string{testInvitation.Link, "Front Door", "bob", "2 Jun 2026"} {
		if !strings.Contains(html, want) {
			t.Errorf("body does not carry %q", want)
		}
	}

	if subject := testInvitation.subject(); !strings.Contains(subject, "Front Door") {
		t.Errorf("subject = %q", subject)
	}

	// The key name is optional.
	anonymous := testInvitation
	anonymous.KeyName = ""
	html, err = anonymous.html()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "named") {
		t.Error("body names a key the invitation does not have")
	}
}

func TestMultipartMessage(t *testing.T) {
	c := NewClient("mail.example.com", "25", "user", "pass", "noreply@example.com")

	html, err := testInvitation.html()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.multipart(testInvitation.To, testInvitation.subject(), html, "text part")
	if err != nil {
		t.Fatalf("multipart: %v", err)
	}

	msg := string(raw)
	for _, want := range []string{
		"From: noreply@example.com",
		"To: bob@example.com",
		"Subject: You have been invited to Front Door",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"text part",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message does not carry %q", want)
		}
	}
}
