package data

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFetchRequestValidate(t *testing.T) {
	r := FetchRequest{Key: "  https://example.com/a.png ", Identifier: " a.png "}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Key != "https://example.com/a.png" || r.Identifier != "a.png" {
		t.Fatalf("fields not trimmed: %+v", r)
	}

	empty := FetchRequest{Key: " \t"}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestFetchRequestFromJSON(t *testing.T) {
	var r FetchRequest
	if err := r.FromJSON(strings.NewReader(`{"key":"k","wait":true,"force":true}`)); err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if r.Key != "k" || !r.Wait || !r.Force {
		t.Fatalf("unexpected request: %+v", r)
	}
}

func TestHistoryEntriesToJSONNeverNull(t *testing.T) {
	var buf bytes.Buffer
	if err := HistoryEntries(nil).ToJSON(&buf); err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestHistoryEntryClone(t *testing.T) {
	e := &HistoryEntry{ID: "1", Key: "k", Status: StatusComplete, Path: "/p"}
	c := e.Clone()
	c.Path = "/other"
	if e.Path != "/p" {
		t.Fatalf("clone shares state with original")
	}
}
