package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("zero interval should be rejected")
	}
	if _, err := New(Options{Interval: time.Hour, Offset: 2 * time.Hour}, zerolog.Nop()); err == nil {
		t.Fatal("offset beyond interval should be rejected")
	}
}

func TestNextTickAlignedWithOffset(t *testing.T) {
	s, err := New(Options{Interval: 24 * time.Hour, AlignToStart: true, Offset: 21*time.Hour + 30*time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	morning := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got, want := s.nextTick(morning), time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick from morning = %v, want %v", got, want)
	}

	late := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	if got, want := s.nextTick(late), time.Date(2026, 3, 3, 21, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next tick after run = %v, want %v", got, want)
	}

	if got, want := s.bucketStart(time.Date(2026, 3, 3, 21, 30, 0, 0, time.UTC)), time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("bucket = %v, want %v", got, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s, _ := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 3, 2, 9, 0, 17, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned next tick = %v", got)
	}
	if got := s.bucketStart(now); !got.Equal(now) {
		t.Fatalf("unaligned bucket = %v", got)
	}
}

func TestRunOnStartAndCancel(t *testing.T) {
	var mu sync.Mutex
	var buckets []time.Time
	s, _ := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, bucket time.Time) error {
			mu.Lock()
			buckets = append(buckets, bucket)
			mu.Unlock()
			cancel()
			return errors.New("tick errors are logged, not returned")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(buckets) != 1 {
		t.Fatalf("expected exactly one startup cycle, got %d", len(buckets))
	}
}

func TestRunTicksRepeatedly(t *testing.T) {
	s, _ := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count := 0
	err := s.Run(ctx, func(context.Context, time.Time) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
}
