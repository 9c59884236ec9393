package chrono

import (
	"errors"
	"testing"
	"time"

	"routine-desk/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestStandardImpl(t *testing.T) {
	clock, err := NewStandardImpl("Asia/Tokyo")
	require.Nil(t, err)
	require.Equal(t, "Asia/Tokyo", clock.Location().String())
	require.Equal(t, "Asia/Tokyo", clock.Now().Location().String())

	local, err := NewStandardImpl("")
	require.Nil(t, err)
	require.Equal(t, time.Local, local.Location())

	_, err = NewStandardImpl("Nowhere/Special")
	require.NotNil(t, err)
}

func TestFixedImpl(t *testing.T) {
	start := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	clock := NewFixedImpl(start)
	require.Equal(t, "2024/05/01", clock.Now().Format(DateLayout))

	clock.Advance(2 * time.Minute)
	require.Equal(t, "2024/05/02", clock.Now().Format(DateLayout))
	require.Equal(t, "2024-05-02", clock.Now().Format(QueryDateLayout))

	clock.Set(start)
	require.Equal(t, start, clock.Now())
}

func TestStandardCron(t *testing.T) {
	recorder := &telemetry.Recorder{}
	cron := NewStandardCron(NewFixedImpl(time.Now()), recorder)
	defer cron.Stop()

	require.NotNil(t, cron.Cron("not a schedule", func() {}))

	ran := make(chan struct{}, 1)
	require.Nil(t, cron.Cron("@every 10ms", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("cron job never ran")
	}
}

func TestCronLoggerError(t *testing.T) {
	recorder := &telemetry.Recorder{}
	logger := cronLogger{tel: recorder}
	cause := errors.New("job panicked")
	logger.Error(cause, "panic", "entry", 3, "dangling")

	reports := recorder.Reports("broken")
	require.Len(t, reports, 1)
	require.Equal(t, "cron", reports[0].Id)
	require.Len(t, reports[0].Params, 2)
	err, ok := reports[0].Params[0].(error)
	require.True(t, ok)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "panic: job panicked", err.Error())
	require.Equal(t, "entry: 3", reports[0].Params[1])
}
