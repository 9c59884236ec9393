package commands

import (
	"fmt"
	"io"
	"time"

	"routine-desk/internal/batch"

	"github.com/jedib0t/go-pretty/v6/progress"
)

// liveProgress draws one tracker per station plus an overall tracker while a
// batch runs.
type liveProgress struct {
	writer   progress.Writer
	overall  *progress.Tracker
	stations map[string]*progress.Tracker
}

func newLiveProgress(out io.Writer, kind string, total int) *liveProgress {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(20)
	pw.SetMessageLength(28)
	pw.SetStyle(progress.StyleDefault)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.Style().Visibility.ETA = false
	pw.Style().Visibility.Percentage = false
	pw.Style().Visibility.Value = true

	overall := &progress.Tracker{
		Message: fmt.Sprintf("%s stations", kind),
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(overall)
	go pw.Render()
	for !pw.IsRenderInProgress() {
		time.Sleep(time.Millisecond)
	}

	return &liveProgress{
		writer:   pw,
		overall:  overall,
		stations: map[string]*progress.Tracker{},
	}
}

func (p *liveProgress) Observe(event batch.Event) {
	switch event.Kind {
	case batch.Started:
		tracker := &progress.Tracker{Message: event.Station, Total: 1}
		p.stations[event.Station] = tracker
		p.writer.AppendTracker(tracker)
	case batch.Retrying:
		tracker, ok := p.stations[event.Station]
		if ok {
			tracker.UpdateMessage(fmt.Sprintf("%s (retry %d)", event.Station, event.Attempt))
		}
	case batch.Finished:
		tracker, ok := p.stations[event.Station]
		if !ok {
			tracker = &progress.Tracker{Message: event.Station, Total: 1}
			p.stations[event.Station] = tracker
			p.writer.AppendTracker(tracker)
		}
		tracker.UpdateMessage(fmt.Sprintf("%s %s (%d rows)", event.Station, event.State, event.Rows))
		if event.State == batch.Success {
			tracker.MarkAsDone()
		} else {
			tracker.MarkAsErrored()
		}
		p.overall.SetValue(int64(event.Completed))
		if event.Completed == event.Total {
			p.overall.MarkAsDone()
		}
	}
}

// Stop waits for the last frame to be drawn.
func (p *liveProgress) Stop() {
	if !p.overall.IsDone() {
		p.overall.MarkAsDone()
	}
	for p.writer.IsRenderInProgress() && p.writer.LengthActive() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	p.writer.Stop()
	for p.writer.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
