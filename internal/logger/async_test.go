package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records and the attrs it was derived with.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	attrs   []slog.Attr
	delay   time.Duration
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}, delay: delay}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	rec.AddAttrs(h.attrs...)
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &c
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) snapshot() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), *h.records...)
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_CloseFlushes(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 1000, 2)

	const total = 200
	for range total {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "event appended"))
	}
	ah.Close()

	if got := len(inner.snapshot()); got != total {
		t.Fatalf("expected %d records after close, got %d", total, got)
	}
}

func TestAsyncHandler_ConcurrentWrites(t *testing.T) {
	const goroutines, perGoroutine = 50, 100
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, goroutines*perGoroutine, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), record(slog.LevelInfo, "chunk"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.snapshot()); got != goroutines*perGoroutine {
		t.Fatalf("expected %d records, got %d", goroutines*perGoroutine, got)
	}
}

func TestAsyncHandler_FullBufferDropsOnlyLowLevels(t *testing.T) {
	inner := newRecordingHandler(5 * time.Millisecond)
	ah := NewAsyncHandler(inner, 1, 1)

	for range 20 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "flood"))
		_ = ah.Handle(context.Background(), record(slog.LevelError, "persist failed"))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped")
	}
	errorsSeen := 0
	for _, r := range inner.snapshot() {
		if r.Level == slog.LevelError {
			errorsSeen++
		}
	}
	if errorsSeen != 20 {
		t.Fatalf("error records written = %d, want all 20", errorsSeen)
	}
}

func TestAsyncHandler_HandleAfterCloseIsSynchronous(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record(slog.LevelInfo, "late")); err != nil {
		t.Fatalf("Handle after close: %v", err)
	}
	if got := len(inner.snapshot()); got != 1 {
		t.Fatalf("records = %d, want 1", got)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)
	derived := ah.WithAttrs([]slog.Attr{slog.String("session_id", "s1")})

	_ = derived.Handle(context.Background(), record(slog.LevelInfo, "turn started"))
	ah.Close()

	recs := inner.snapshot()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	var session string
	recs[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "session_id" {
			session = a.Value.String()
		}
		return true
	})
	if session != "s1" {
		t.Fatalf("session_id = %q, want s1", session)
	}
}
