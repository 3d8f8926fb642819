package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/gatekeeper/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("log output is not JSON: %v\n%s", err, buf.String())
	}
	return m
}

func TestNew_InvalidSettings(t *testing.T) {
	if _, err := New(Config{Level: "trace"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(Config{RedactPII: true, RedactPatterns: []config.RedactPattern{{Name: "bad", Pattern: "("}}}); err == nil {
		t.Error("expected error for invalid redact pattern")
	}
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if got := decodeLine(t, &buf)["msg"]; got != "kept" {
		t.Errorf("msg = %v, want kept", got)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", "rule_id", "r1")
	if !strings.Contains(buf.String(), "rule_id=r1") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithTenant(context.Background(), "acme")
	ctx = WithInstance(ctx, "wf-1")
	ctx = WithActor(ctx, "alice")
	ctx = WithRequestID(ctx, "req-9")
	logger.InfoContext(ctx, "transition")

	m := decodeLine(t, &buf)
	for key, want := range map[string]string{"tenant_id": "acme", "instance_id": "wf-1", "actor": "alice", "request_id": "req-9"} {
		if m[key] != want {
			t.Errorf("%s = %v, want %s", key, m[key], want)
		}
	}
}

func TestNew_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{
		RedactPII: true,
		Writer:    &buf,
		RedactPatterns: []config.RedactPattern{
			{Name: "ssn", Pattern: `\d{3}-\d{2}-\d{4}`, Replacement: "[SSN]"},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.With("owner", "bob@example.com").Info("assigned to maria@acme.test",
		"assignee", "maria@acme.test",
		"api_token", "abcdef123456",
		"note", "ssn 123-45-6789",
		"err", errors.New("notify carol@acme.test failed"),
		slog.Group("vendor", "contact", "dan@vendor.test"),
		"count", 3,
	)

	m := decodeLine(t, &buf)
	if m["msg"] != "assigned to m***@acme.test" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["assignee"] != "m***@acme.test" {
		t.Errorf("assignee = %v", m["assignee"])
	}
	if m["owner"] != "b***@example.com" {
		t.Errorf("owner = %v", m["owner"])
	}
	if m["api_token"] != "abcd***" {
		t.Errorf("api_token = %v", m["api_token"])
	}
	if m["note"] != "ssn [SSN]" {
		t.Errorf("note = %v", m["note"])
	}
	if m["err"] != "notify c***@acme.test failed" {
		t.Errorf("err = %v", m["err"])
	}
	if vendor, _ := m["vendor"].(map[string]any); vendor["contact"] != "d***@vendor.test" {
		t.Errorf("vendor = %v", m["vendor"])
	}
	if m["count"] != float64(3) {
		t.Errorf("count = %v", m["count"])
	}
}

func TestNew_NoRedactionWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("x", "assignee", "maria@acme.test")
	if got := decodeLine(t, &buf)["assignee"]; got != "maria@acme.test" {
		t.Errorf("assignee = %v", got)
	}
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"maria@acme.test": "m***@acme.test",
		"@acme.test":      "***@acme.test",
		"not-an-email":    "not-an-email",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	Component(logger, "matcher").Info("ready")
	if got := decodeLine(t, &buf)["component"]; got != "matcher" {
		t.Errorf("component = %v", got)
	}
	if Component(nil, "x") == nil {
		t.Error("Component(nil) returned nil")
	}
}
