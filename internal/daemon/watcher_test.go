package daemon

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewFileWatcher verifies that creating a new FileWatcher succeeds.
func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Channels are closed after Stop.
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed after Stop()")
	}
}

func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	root := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(root); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}
	if err := fw.Start(root); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestFileWatcher_MissingRoot(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing root")
	}
}

// waitForEvent returns the first event for path, skipping others.
func waitForEvent(t *testing.T, fw *FileWatcher, path string) FileEvent {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-fw.Events():
			if event.Path == path {
				return event
			}
		case err := <-fw.Errors():
			t.Fatalf("Unexpected error: %v", err)
		case <-timeout:
			t.Fatalf("Timeout waiting for event on %s", path)
		}
	}
}

func TestFileWatcher_ImageCreatedInSubdirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "set", "day1")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	path := filepath.Join(sub, "photo.jpg")
	writeImage(t, path)

	event := waitForEvent(t, fw, path)
	if event.IsDir {
		t.Error("image event should not be marked as a directory")
	}
}

func TestFileWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	dir := filepath.Join(root, "incoming")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	event := waitForEvent(t, fw, dir)
	if !event.IsDir || event.Op != OpCreate {
		t.Errorf("event = %+v, want directory create", event)
	}

	path := filepath.Join(dir, "later.png")
	writeImage(t, path)
	waitForEvent(t, fw, path)
}

func TestFileWatcher_IgnoresNonImages(t *testing.T) {
	root := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case event := <-fw.Events():
		t.Errorf("Unexpected event for non-image: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestSettler_CoalescesRepeatEvents(t *testing.T) {
	var calls atomic.Int32
	fired := make(chan string, 4)

	s := newSettler(50*time.Millisecond, func(path string) {
		calls.Add(1)
		fired <- path
	})
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.Trigger("/w/a.jpg")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-fired:
		if got != "/w/a.jpg" {
			t.Errorf("fired for %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for settled callback")
	}

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
}

func TestSettler_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	s := newSettler(30*time.Millisecond, func(string) { calls.Add(1) })

	s.Trigger("/w/a.jpg")
	s.Trigger("/w/b.jpg")
	if got := s.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}

	s.Stop()
	s.Trigger("/w/c.jpg")
	time.Sleep(100 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback ran %d times after Stop()", n)
	}
}
