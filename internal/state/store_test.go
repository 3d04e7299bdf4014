package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wpm/altwatch/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
}

func TestRecordAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	t2 := t1.Add(time.Hour)

	if err := s.Record(ctx, "/w/a.jpg", t1, &pipeline.Outcome{Status: pipeline.StatusOK, AltText: "a"}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := s.Record(ctx, "/w/b.png", t1, pipeline.Failed("/w/b.png", nil)); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	// Upsert keeps one row per path.
	if err := s.Record(ctx, "/w/a.jpg", t2, &pipeline.Outcome{Status: pipeline.StatusOK, AltText: "a2"}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d entries, want 2", len(loaded))
	}
	if !loaded["/w/a.jpg"].Equal(t2) {
		t.Errorf("a.jpg mtime = %v, want %v", loaded["/w/a.jpg"], t2)
	}
	if !loaded["/w/b.png"].Equal(t1) {
		t.Errorf("b.png mtime = %v, want %v (nanoseconds must survive)", loaded["/w/b.png"], t1)
	}

	count, err := s.Count(ctx)
	if err != nil || count != 2 {
		t.Errorf("Count() = %d, %v; want 2", count, err)
	}

	byStatus, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() failed: %v", err)
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("CountByStatus() = %v", byStatus)
	}
}

func TestListSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "/w/old.jpg", time.Now(), &pipeline.Outcome{Status: pipeline.StatusOK}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	if err := s.Record(ctx, "/w/new.jpg", time.Now(), &pipeline.Outcome{Status: pipeline.StatusManual, DocPath: "/w/log.md"}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	entries, err := s.ListSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListSince() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListSince() returned %d entries, want 1", len(entries))
	}
	if entries[0].Path != "/w/new.jpg" || entries[0].Status != "manual" || entries[0].DocPath != "/w/log.md" {
		t.Errorf("entry = %+v", entries[0])
	}

	all, err := s.ListSince(ctx, time.Time{})
	if err != nil || len(all) != 2 {
		t.Errorf("ListSince(zero) = %d entries, %v; want 2", len(all), err)
	}
}

func TestForget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Record(ctx, "/w/a.jpg", time.Now(), &pipeline.Outcome{Status: pipeline.StatusOK})
	if err := s.Forget(ctx, "/w/a.jpg"); err != nil {
		t.Fatalf("Forget() failed: %v", err)
	}
	if err := s.Forget(ctx, "/w/never.jpg"); err != nil {
		t.Errorf("Forget() of unknown path failed: %v", err)
	}

	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count() = %d after Forget, want 0", n)
	}
}

func TestClose_Twice(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
