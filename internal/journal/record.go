package journal

import (
	"context"
	"strings"
	"time"

	"routine-desk/internal/batch"
)

// RecordResult stores a finished batch, and the station input that produced
// it as the last input of its kind.
func RecordResult[R any](ctx context.Context, j Journal, started, finished time.Time, result batch.Result[R]) (string, error) {
	id, err := NewRunId()
	if err != nil {
		return "", err
	}

	run := Run{
		Id:         id,
		Kind:       result.Kind,
		StartedAt:  started,
		FinishedAt: finished,
		Stations:   len(result.Outcomes),
		Succeeded:  result.Count(batch.Success),
		Exhausted:  result.Count(batch.Exhausted),
		Failed:     result.Count(batch.Failed),
	}
	outcomes := []StationOutcome{}
	codes := []string{}
	for _, o := range result.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		outcomes = append(outcomes, StationOutcome{
			Station:  o.Station,
			State:    o.State.String(),
			Attempts: int(o.Attempts),
			Rows:     len(o.Rows),
			Error:    errText,
		})
		codes = append(codes, o.Station)
	}

	err = j.Record(ctx, run, outcomes)
	if err != nil {
		return "", err
	}
	if len(codes) > 0 {
		err = j.Set(ctx, LastInputKey(result.Kind), strings.Join(codes, ","))
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

// LastInput returns the codes of the last run of a kind.
func LastInput(ctx context.Context, j Journal, kind string) ([]string, error) {
	value, ok, err := j.Get(ctx, LastInputKey(kind))
	if err != nil || !ok || value == "" {
		return nil, err
	}
	return strings.Split(value, ","), nil
}
