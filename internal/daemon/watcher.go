package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wpm/altwatch/internal/pathkey"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written or its attributes changed.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent represents a file system event under the watch root.
type FileEvent struct {
	// Path is the absolute path that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
	// IsDir is set when a directory was created. Its contents are not
	// reported individually and must be scanned.
	IsDir bool
}

// FileWatcher watches a directory tree for image changes.
//
// fsnotify watches are not recursive, so every directory under the root is
// added individually and directories created later are added as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	root    string
	dirs    map[string]struct{}
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 256),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirs:    make(map[string]struct{}),
	}, nil
}

// Start begins watching root and every directory below it.
// Only a failure to watch root itself is returned; unreadable
// subdirectories are reported on Errors().
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}

	if err := fw.watcher.Add(root); err != nil {
		fw.mu.Unlock()
		return fmt.Errorf("failed to watch directory %s: %w", root, err)
	}
	fw.root = root
	fw.dirs[root] = struct{}{}
	fw.running = true
	fw.mu.Unlock()

	fw.wg.Add(1)
	go fw.processEvents()

	fw.AddTree(root)
	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the underlying watcher unblocks the event loop.
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// AddDir watches a single directory. Directories already watched are skipped.
func (fw *FileWatcher) AddDir(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.running {
		return nil
	}
	if _, ok := fw.dirs[dir]; ok {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.dirs[dir] = struct{}{}
	return nil
}

// AddTree watches dir and every directory below it.
func (fw *FileWatcher) AddTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.reportError(err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.AddDir(path); err != nil {
			fw.reportError(err)
		}
		return nil
	})
}

// forget drops a removed directory from the watched set so that a
// directory recreated at the same path is watched again.
func (fw *FileWatcher) forget(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.dirs, path)
}

func (fw *FileWatcher) reportError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	default:
	}
}

// processEvents is the main event loop that converts fsnotify events
// into FileEvent notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns (FileEvent, true) if the event should be processed,
// or (FileEvent{}, false) if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			fw.AddTree(path)
			return FileEvent{Path: path, Op: OpCreate, IsDir: true}, true
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		fw.forget(path)
	}

	if !pathkey.IsImage(path) {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The new name of a rename arrives as a separate Create.
		op = OpDelete
	case event.Has(fsnotify.Chmod):
		// touch(1) surfaces as an attribute change; it bumps the mtime.
		op = OpModify
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: path, Op: op}, true
}
