package metrics

import (
	"context"
	"testing"
	"time"
)

func TestNewCollectorDefaults(t *testing.T) {
	c := NewCollector(0, nil)
	if c.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", c.interval)
	}
	if c.logger == nil {
		t.Error("logger should default to a no-op logger")
	}
}

func TestRecordRequest(t *testing.T) {
	c := NewCollector(time.Second, nil)
	for _, status := range []int{200, 404, 500, 503, 201} {
		c.RecordRequest(status)
	}
	c.RecordImport()

	s := c.Snapshot()
	if s.Requests != 5 {
		t.Errorf("Requests = %d, want 5", s.Requests)
	}
	if s.ServerErrors != 2 {
		t.Errorf("ServerErrors = %d, want 2", s.ServerErrors)
	}
	if s.Imports != 1 {
		t.Errorf("Imports = %d, want 1", s.Imports)
	}

	// counters stay live after the sample is cached
	c.RecordRequest(200)
	if got := c.Snapshot().Requests; got != 6 {
		t.Errorf("Requests after cached sample = %d, want 6", got)
	}
}

func TestCollect(t *testing.T) {
	c := NewCollector(time.Second, nil)
	s := c.Collect()
	if s.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if s.Goroutines < 1 {
		t.Errorf("Goroutines = %d", s.Goroutines)
	}
	if s.MemoryPercent < 0 || s.MemoryPercent > 100 {
		t.Errorf("MemoryPercent = %v", s.MemoryPercent)
	}
}

func TestStartStops(t *testing.T) {
	c := NewCollector(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if c.Snapshot().Timestamp.IsZero() {
		t.Error("Start should collect a first sample")
	}
}

func TestFormatMB(t *testing.T) {
	if got := formatMB(12.34); got != "12.3 MB" {
		t.Errorf("formatMB = %q", got)
	}
}
