package journal

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"airquality-node/internal/db/migrate"
	"airquality-node/internal/reading"
	"airquality-node/internal/upload"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	if _, err := migrate.Run(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecent_Empty(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	got, err := repo.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Recent = %v, want empty non-nil slice", got)
	}
}

func TestInsertAndRecent(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	id := int64(4217)
	mean := reading.Sample{PM1: 1, PM25: 2, PM4: 3, PM10: 4, Humidity: 50, Temperature: 20, VOC: 100, NOx: 1}
	entries := []Entry{
		{Time: base, Outcome: "uploaded", Transport: "thingspeak", Samples: 10, EntryID: &id, Mean: &mean},
		{Time: base.Add(20 * time.Second), Outcome: "upload_failed", Transport: "thingspeak", Samples: 12, Retained: true, Error: "status 500", Mean: &mean},
		{Time: base.Add(40 * time.Second), Outcome: "offline", Transport: "thingspeak", Samples: 14, Retained: true},
	}
	for _, e := range entries {
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Outcome != "offline" || got[1].Outcome != "upload_failed" {
		t.Fatalf("order = %s, %s; want newest first", got[0].Outcome, got[1].Outcome)
	}
	if got[0].ID == "" {
		t.Error("id not generated")
	}
	if got[0].Mean != nil {
		t.Errorf("mean = %+v, want nil", got[0].Mean)
	}
	if !got[1].Retained || got[1].Error != "status 500" {
		t.Errorf("failed entry = %+v", got[1])
	}
	if got[1].Mean == nil || got[1].Mean.PM25 != 2 {
		t.Errorf("mean not round-tripped: %+v", got[1].Mean)
	}

	all, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	last := all[len(all)-1]
	if last.EntryID == nil || *last.EntryID != 4217 {
		t.Errorf("entry id = %v, want 4217", last.EntryID)
	}
	if !last.Time.Equal(base) {
		t.Errorf("time = %v, want %v", last.Time, base)
	}
}

func TestInsert_NaNMeanStoredAsNull(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	mean := reading.Sample{Temperature: math.NaN()}

	if err := repo.Insert(ctx, Entry{Time: base, Outcome: "invalid_batch", Transport: "mqtt", Samples: 10, Mean: &mean}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := repo.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got[0].Mean != nil {
		t.Fatalf("partial mean must not be returned: %+v", got[0].Mean)
	}
}

func TestStats(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	for i, o := range []string{"uploaded", "uploaded", "offline"} {
		if err := repo.Insert(ctx, Entry{Time: base.Add(time.Duration(i) * time.Second), Outcome: o, Transport: "thingspeak"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["uploaded"] != 2 || stats["offline"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestRecorder_RecordUpload(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	rec := Recorder{Repo: repo, Transport: "thingspeak"}
	ctx := context.Background()

	if err := rec.RecordUpload(ctx, base, upload.Result{Outcome: upload.Uploaded, Samples: 10, EntryID: 9, Mean: reading.Sample{PM25: 5}}); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}
	if err := rec.RecordUpload(ctx, base.Add(time.Second), upload.Result{Outcome: upload.Offline, Samples: 10, Retained: true, Err: errors.New("link down")}); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	got, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Outcome != "offline" || got[0].Error != "link down" || got[0].EntryID != nil {
		t.Errorf("offline entry = %+v", got[0])
	}
	if got[1].Outcome != "uploaded" || got[1].EntryID == nil || *got[1].EntryID != 9 {
		t.Errorf("uploaded entry = %+v", got[1])
	}
}
