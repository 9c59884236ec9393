package telemetry

import (
	"context"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	recorder := &Recorder{}
	scoped := NewScopedAPI("batch", recorder)

	scoped.ReportBroken("runner.run", "boom")
	scoped.ReportWarning("runner.run-station", "exhausted", "DAB1")
	scoped.ReportCount("cortex.succeeded", 3)

	require.True(t, recorder.Has("broken", "batch: runner.run"))
	require.True(t, recorder.Has("warning", "runner.run-station"))
	require.False(t, recorder.Has("broken", "runner.run-station"))

	counts := recorder.Reports("count")
	require.Len(t, counts, 1)
	require.Equal(t, "batch: cortex.succeeded", counts[0].Id)
	require.Equal(t, []any{int64(3)}, counts[0].Params)
	require.Len(t, recorder.Reports(""), 3)
}

func TestSetupWithoutTargets(t *testing.T) {
	tel, err := Setup(context.Background(), "routine-test", config{})
	require.Nil(t, err)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.Nil(t, tel.Shutdown(context.Background()))
}

func TestSetupRejectsBadInterval(t *testing.T) {
	cfg := config{MetricInterval: "soon"}
	cfg.Otlp.Metrics.HttpEndpoint = "http://127.0.0.1:4318/v1/metrics"
	_, err := Setup(context.Background(), "routine-test", cfg)
	require.NotNil(t, err)
}

func TestSamplePerf(t *testing.T) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	require.Nil(t, err)
	sample, err := SamplePerf(context.Background(), proc)
	require.Nil(t, err)
	require.Greater(t, sample.Goroutines, int64(0))
	require.Greater(t, sample.RssMb, int64(-1))
}
