package reqid

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithAndFrom(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatalf("expected no id on empty context")
	}
	ctx := With(context.Background(), "abc")
	if id, ok := From(ctx); !ok || id != "abc" {
		t.Fatalf("From = %q, %v", id, ok)
	}
	if _, ok := From(With(context.Background(), "")); ok {
		t.Fatalf("empty id reported as present")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(context.Background(), base).Info("plain")
	Logger(With(context.Background(), "req-1"), base).Info("tagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if strings.Contains(lines[0], "request_id") {
		t.Fatalf("untagged line has request id: %s", lines[0])
	}
	if !strings.Contains(lines[1], "request_id=req-1") {
		t.Fatalf("tagged line missing request id: %s", lines[1])
	}
}
