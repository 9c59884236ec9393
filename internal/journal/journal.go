// Package journal records every batch run and keeps the small key/value
// state the CLI carries between runs (ex. the last station input).
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mazen160/go-random"
)

//go:embed schema.sql
var Schema string

// LastInputKey is the session_data key of the last station input of a kind.
func LastInputKey(kind string) string {
	return "last_input." + kind
}

type Run struct {
	Id         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Stations   int
	Succeeded  int
	Exhausted  int
	Failed     int
}

type StationOutcome struct {
	Station  string
	State    string
	Attempts int
	Rows     int
	Error    string
}

type Journal struct {
	db *sql.DB
}

// Open applies the schema to db.
func Open(ctx context.Context, db *sql.DB) (Journal, error) {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return Journal{}, fmt.Errorf("apply journal schema: %w", err)
		}
	}
	return Journal{db: db}, nil
}

func (j Journal) Close() error {
	return j.db.Close()
}

// NewRunId returns a short random id.
func NewRunId() (string, error) {
	return random.String(10)
}

// Record stores a run and its station outcomes in one transaction.
func (j Journal) Record(ctx context.Context, run Run, outcomes []StationOutcome) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`insert into runs(id, kind, started_at, finished_at, stations, succeeded, exhausted, failed)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Id, run.Kind, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Stations, run.Succeeded, run.Exhausted, run.Failed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, o := range outcomes {
		_, err = tx.ExecContext(
			ctx,
			`insert into station_outcomes(run_id, station, state, attempts, rows, error)
			values (?, ?, ?, ?, ?, ?)`,
			run.Id, o.Station, o.State, o.Attempts, o.Rows, o.Error,
		)
		if err != nil {
			return fmt.Errorf("insert outcome of %s: %w", o.Station, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs first.
func (j Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(
		ctx,
		`select id, kind, started_at, finished_at, stations, succeeded, exhausted, failed
		from runs order by started_at desc, id limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var run Run
		var started, finished int64
		err = rows.Scan(&run.Id, &run.Kind, &started, &finished, &run.Stations, &run.Succeeded, &run.Exhausted, &run.Failed)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Outcomes returns the station outcomes of a run in station order.
func (j Journal) Outcomes(ctx context.Context, runId string) ([]StationOutcome, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`select station, state, attempts, rows, error from station_outcomes
		where run_id = ? order by station`,
		runId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StationOutcome{}
	for rows.Next() {
		var o StationOutcome
		err = rows.Scan(&o.Station, &o.State, &o.Attempts, &o.Rows, &o.Error)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Set upserts a session_data value.
func (j Journal) Set(ctx context.Context, key, value string) error {
	_, err := j.db.ExecContext(
		ctx,
		`insert into session_data(key, value) values (?, ?)
		on conflict(key) do update set value = excluded.value`,
		key, value,
	)
	return err
}

// Get returns a session_data value, ok is false when it is missing.
func (j Journal) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row := j.db.QueryRowContext(ctx, `select value from session_data where key = ?`, key)
	err = row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
