// Package metrics samples process health and counts served requests.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot is one sample of server health
type Snapshot struct {
	CPUPercent        float64   `json:"cpu_percent"`
	ProcessCPUPercent float64   `json:"process_cpu_percent"` // can exceed 100 on multi-core
	ProcessRSSMB      float64   `json:"process_rss_mb"`
	MemoryUsedGB      float64   `json:"memory_used_gb"`
	MemoryTotalGB     float64   `json:"memory_total_gb"`
	MemoryPercent     float64   `json:"memory_percent"`
	Goroutines        int       `json:"goroutines"`
	Requests          int64     `json:"requests"`
	ServerErrors      int64     `json:"server_errors"`
	Imports           int64     `json:"imports"`
	Uptime            string    `json:"uptime"`
	Timestamp         time.Time `json:"timestamp"`
}

// Collector periodically samples system metrics and tracks request counters
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	started  time.Time

	requests     atomic.Int64
	serverErrors atomic.Int64
	imports      atomic.Int64

	mu   sync.RWMutex
	last *Snapshot
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		started:  time.Now(),
	}
}

// Start begins periodic collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			s := c.Collect()
			c.logger.Info("Server metrics",
				zap.Float64("sys_cpu", s.CPUPercent),
				zap.Float64("proc_cpu", s.ProcessCPUPercent),
				zap.String("rss", formatMB(s.ProcessRSSMB)),
				zap.Float64("mem_pct", s.MemoryPercent),
				zap.Int64("requests", s.Requests),
				zap.Int64("server_errors", s.ServerErrors),
			)
		}
	}
}

// RecordRequest counts a served request by its status code
func (c *Collector) RecordRequest(status int) {
	c.requests.Add(1)
	if status >= 500 {
		c.serverErrors.Add(1)
	}
}

// RecordImport counts a successfully imported file
func (c *Collector) RecordImport() {
	c.imports.Add(1)
}

// Snapshot returns the last sample with current counters, collecting one if none exists
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()
	if last == nil {
		return c.Collect()
	}

	s := *last
	c.fillCounters(&s)
	return s
}

// Collect takes a fresh sample
func (c *Collector) Collect() Snapshot {
	s := Snapshot{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			s.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
		s.MemoryUsedGB = float64(vmem.Used) / (1024 * 1024 * 1024)
		s.MemoryTotalGB = float64(vmem.Total) / (1024 * 1024 * 1024)
	}

	c.fillCounters(&s)

	c.mu.Lock()
	c.last = &s
	c.mu.Unlock()
	return s
}

func (c *Collector) fillCounters(s *Snapshot) {
	s.Goroutines = runtime.NumGoroutine()
	s.Requests = c.requests.Load()
	s.ServerErrors = c.serverErrors.Load()
	s.Imports = c.imports.Load()
	s.Uptime = time.Since(c.started).Truncate(time.Second).String()
}

func formatMB(mb float64) string {
	return fmt.Sprintf("%.1f MB", mb)
}
