package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinoosan/fanfetch/internal/downloader"
)

func TestStreamBuffersInOrder(t *testing.T) {
	s := NewStream()
	s.OnStart("k")
	s.OnProgress("k", 40)
	s.OnSuccess("k", "/c/k.png")
	s.Close()
	s.OnProgress("k", 99) // after Close: dropped

	var got []downloader.Event
	for {
		e, err := s.Next(context.Background())
		if errors.Is(err, ErrStreamClosed) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, e)
	}
	want := []downloader.Event{
		{Key: "k", Type: downloader.EventStart},
		{Key: "k", Type: downloader.EventProgress, Percent: 40},
		{Key: "k", Type: downloader.EventComplete, Path: "/c/k.png"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamNextHonoursContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("next err = %v", err)
	}
}

func TestStreamWakesWaitingReader(t *testing.T) {
	s := NewStream()
	got := make(chan downloader.Event, 1)
	go func() {
		e, _ := s.Next(context.Background())
		got <- e
	}()
	time.Sleep(5 * time.Millisecond)
	s.OnCancel("k")
	select {
	case e := <-got:
		if e.Type != downloader.EventCancelled {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reader never woke")
	}
}
