package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("routine-desk/perf_stats")
var cpuGauge, _ = meter.Float64Gauge("process_cpu_percent")
var rssGauge, _ = meter.Int64Gauge("process_rss_mb")
var heapGauge, _ = meter.Int64Gauge("heap_alloc_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

// PerfSample is one reading of the process' own resource usage.
type PerfSample struct {
	CpuPercent float64
	RssMb      int64
	HeapMb     int64
	Goroutines int64
}

// SamplePerf reads the resource usage of the current process, chrome
// children are not included.
func SamplePerf(ctx context.Context, proc *process.Process) (PerfSample, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sample := PerfSample{
		HeapMb:     int64(memStats.HeapAlloc / 1_000_000),
		Goroutines: int64(runtime.NumGoroutine()),
	}

	cpuPercent, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		return sample, err
	}
	sample.CpuPercent = cpuPercent
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return sample, err
	}
	sample.RssMb = int64(mem.RSS / 1_000_000)
	return sample, nil
}

// InstrumentPerfStats records process stats every interval until ctx is
// done, only long running modes (watch, serve) call it.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("perf stats are disabled", "err", err)
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sample, err := SamplePerf(ctx, proc)
				if err != nil {
					slog.Debug("failed to sample process stats", "err", err)
				}
				cpuGauge.Record(ctx, sample.CpuPercent)
				rssGauge.Record(ctx, sample.RssMb)
				heapGauge.Record(ctx, sample.HeapMb)
				goroutineGauge.Record(ctx, sample.Goroutines)
			case <-ctx.Done():
				return
			}
		}
	}()
}
