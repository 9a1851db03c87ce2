package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Snapshot is one reading of the process runtime.
type Snapshot struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	HeapSys     uint64
	GCPause     time.Duration
	NumGC       uint32
}

// SystemMonitor samples the Go runtime into gauges until stopped.
type SystemMonitor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	interval time.Duration
	metrics  struct {
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		heapUsage   prometheus.Gauge
		gcPause     prometheus.Gauge
	}

	mu   sync.RWMutex
	last Snapshot
	wg   sync.WaitGroup
}

// NewSystemMonitor starts sampling every interval. Gauges are registered with
// reg; a nil reg leaves them unregistered.
func NewSystemMonitor(ctx context.Context, namespace string, interval time.Duration, reg prometheus.Registerer, logger *zap.Logger) (*SystemMonitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	m := &SystemMonitor{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		interval: interval,
	}

	f := promauto.With(reg)
	m.metrics.goroutines = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapObjects = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.heapAlloc = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.heapUsage = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_heap_usage_ratio",
		Help:      "Heap in use over heap obtained from the OS",
	})
	m.metrics.gcPause = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_gc_pause_seconds",
		Help:      "Duration of the most recent GC pause",
	})

	m.collect()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor()
	}()

	return m, nil
}

func (m *SystemMonitor) monitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *SystemMonitor) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: memStats.HeapObjects,
		HeapAlloc:   memStats.HeapAlloc,
		HeapSys:     memStats.HeapSys,
		NumGC:       memStats.NumGC,
	}
	if memStats.NumGC > 0 {
		s.GCPause = time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256])
	}

	m.metrics.goroutines.Set(float64(s.Goroutines))
	m.metrics.heapObjects.Set(float64(s.HeapObjects))
	m.metrics.heapAlloc.Set(float64(s.HeapAlloc))
	if s.HeapSys > 0 {
		m.metrics.heapUsage.Set(float64(s.HeapAlloc) / float64(s.HeapSys))
	}
	m.metrics.gcPause.Set(s.GCPause.Seconds())

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()

	m.logger.Debug("Runtime sample",
		zap.Int("goroutines", s.Goroutines),
		zap.Uint64("heap_alloc", s.HeapAlloc),
		zap.Duration("gc_pause", s.GCPause))
}

// Last returns the most recent sample.
func (m *SystemMonitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Cleanup stops sampling and waits for the sampler to exit.
func (m *SystemMonitor) Cleanup() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
