// Package journal keeps a local SQLite record of every upload decision so a
// flaky uplink can be diagnosed after the fact.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"airquality-node/internal/reading"
	"airquality-node/internal/upload"
)

//go:embed sql/insert-upload.sql
var insertUploadSQL string

//go:embed sql/get-recent-uploads.sql
var getRecentUploadsSQL string

//go:embed sql/get-upload-stats.sql
var getUploadStatsSQL string

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one journaled upload decision.
type Entry struct {
	ID        string          `json:"id"`
	Time      time.Time       `json:"time"`
	Outcome   string          `json:"outcome"`
	Transport string          `json:"transport"`
	Samples   int             `json:"samples"`
	EntryID   *int64          `json:"entryId,omitempty"`
	Retained  bool            `json:"retained"`
	Error     string          `json:"error,omitempty"`
	Mean      *reading.Sample `json:"mean,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Stats(ctx context.Context) (map[string]int, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var entryID sql.NullInt64
	if e.EntryID != nil {
		entryID = sql.NullInt64{Int64: *e.EntryID, Valid: true}
	}
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	var mean [reading.Channels]sql.NullFloat64
	if e.Mean != nil {
		for i, v := range e.Mean.Values() {
			// NaN is not representable in SQLite REAL columns
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				mean[i] = sql.NullFloat64{Float64: v, Valid: true}
			}
		}
	}

	_, err := r.db.ExecContext(ctx, insertUploadSQL,
		e.ID, e.Time.UTC().Format(tsLayout), e.Outcome, e.Transport, e.Samples,
		entryID, e.Retained, errText,
		mean[0], mean[1], mean[2], mean[3], mean[4], mean[5], mean[6], mean[7],
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (r *repositoryImpl) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, getRecentUploadsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close uploads rows", "error", err)
		}
	}()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			ts      string
			entryID sql.NullInt64
			errText sql.NullString
			mean    [reading.Channels]sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Outcome, &e.Transport, &e.Samples, &entryID, &e.Retained, &errText,
			&mean[0], &mean[1], &mean[2], &mean[3], &mean[4], &mean[5], &mean[6], &mean[7]); err != nil {
			return nil, err
		}
		t, err := time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		e.Time = t
		if entryID.Valid {
			id := entryID.Int64
			e.EntryID = &id
		}
		e.Error = errText.String
		e.Mean = meanFromColumns(mean)
		out = append(out, e)
	}
	return out, rows.Err()
}

// meanFromColumns returns nil unless every channel was stored.
func meanFromColumns(cols [reading.Channels]sql.NullFloat64) *reading.Sample {
	var v [reading.Channels]float64
	for i, c := range cols {
		if !c.Valid {
			return nil
		}
		v[i] = c.Float64
	}
	s := reading.FromValues(v)
	return &s
}

func (r *repositoryImpl) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, getUploadStatsSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[string]int{}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// Recorder adapts a Repository to upload.Recorder.
type Recorder struct {
	Repo      Repository
	Transport string
}

func (rec Recorder) RecordUpload(ctx context.Context, at time.Time, r upload.Result) error {
	e := Entry{
		Time:      at,
		Outcome:   r.Outcome.String(),
		Transport: rec.Transport,
		Samples:   r.Samples,
		Retained:  r.Retained,
	}
	if r.Outcome == upload.Uploaded {
		id := r.EntryID
		e.EntryID = &id
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if r.Samples > 0 {
		m := r.Mean
		e.Mean = &m
	}
	return rec.Repo.Insert(ctx, e)
}
