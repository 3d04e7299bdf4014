package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpm/altwatch/internal/ledger"
	"github.com/wpm/altwatch/internal/pathkey"
	"github.com/wpm/altwatch/internal/pipeline"
)

const (
	// DefaultPollInterval is the period of the safety-net scan.
	DefaultPollInterval = time.Second

	// MinPollInterval is the shortest accepted scan period.
	MinPollInterval = 250 * time.Millisecond

	// DefaultSettleDelay is how long a path must be quiet after an event
	// before it is inspected.
	DefaultSettleDelay = 250 * time.Millisecond
)

// Pipeline describes one image. Implementations may block for a long time.
type Pipeline interface {
	Process(ctx context.Context, path string) (*pipeline.Outcome, error)
}

// Ledger records ok and manual outcomes in their ledger document.
type Ledger interface {
	Merge(docPath string, row ledger.Row) error
}

// Reporter announces every finished job.
type Reporter interface {
	Report(path string, o *pipeline.Outcome)
}

// Index persists the processed index across restarts.
type Index interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Record(ctx context.Context, path string, modTime time.Time, o *pipeline.Outcome) error
}

// Observer receives job lifecycle notifications. Calls are made
// synchronously from engine goroutines and must not block.
type Observer interface {
	OnQueued(item WorkItem)
	OnStarted(item WorkItem)
	OnFinished(item WorkItem, o *pipeline.Outcome, elapsed time.Duration)
	OnScanComplete(dir string, queued int, elapsed time.Duration)
}

// Config holds configuration for the engine.
type Config struct {
	// PollInterval is how often the whole tree is rescanned.
	// Values below MinPollInterval are replaced by DefaultPollInterval.
	PollInterval time.Duration

	// SettleDelay is how long to wait after the last event for a path
	SettleDelay time.Duration

	// Ledger receives ok and manual outcomes. Optional.
	Ledger Ledger

	// Reporter announces finished jobs. Optional.
	Reporter Reporter

	// Index persists processed mtimes. Optional.
	Index Index

	// Observers are notified of job lifecycle events.
	Observers []Observer

	// Exclude lists directories whose contents are never inspected,
	// such as an export tree written by the pipeline itself.
	Exclude []string

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// WorkItem is one queued image.
type WorkItem struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
	QueuedAt time.Time `json:"queued_at"`
}

// Stats is a snapshot of engine state.
type Stats struct {
	Queued    int  `json:"queued"`
	InFlight  int  `json:"in_flight"`
	Processed int  `json:"processed"`
	Busy      bool `json:"busy"`
	Watching  bool `json:"watching"`
}

// Engine detects new or changed images under a root and processes them one
// at a time in arrival order.
type Engine struct {
	root     string
	pipeline Pipeline
	config   *Config
	exclude  []string

	mu        sync.Mutex
	processed map[string]time.Time // path -> mtime captured at enqueue
	inFlight  map[string]struct{}  // queued or being processed
	queue     []WorkItem
	busy      bool

	wake     chan struct{}
	watcher  *FileWatcher
	settler  *settler
	workerWG sync.WaitGroup
}

// New creates an Engine watching root with default configuration.
func New(root string, p Pipeline) (*Engine, error) {
	return NewWithConfig(root, p, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(root string, p Pipeline, config *Config) (*Engine, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	if config.PollInterval < MinPollInterval {
		config.PollInterval = DefaultPollInterval
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = DefaultSettleDelay
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	var exclude []string
	for _, dir := range config.Exclude {
		if dir == "" {
			continue
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve excluded directory %s: %w", dir, err)
		}
		exclude = append(exclude, absDir)
	}

	e := &Engine{
		root:      abs,
		exclude:   exclude,
		pipeline:  p,
		config:    config,
		processed: make(map[string]time.Time),
		inFlight:  make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
	}
	e.settler = newSettler(config.SettleDelay, e.inspectSettled)
	return e, nil
}

// Root returns the absolute watch root.
func (e *Engine) Root() string {
	return e.root
}

// Run watches the root until ctx is cancelled.
//
// The processed index is seeded from the configured Index, the worker is
// started, the event watcher is attached (scan-only mode if that fails) and
// the tree is scanned once before the poll loop begins.
func (e *Engine) Run(ctx context.Context) error {
	info, err := os.Stat(e.root)
	if err != nil {
		return fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", e.root)
	}

	e.config.Logger.Printf("Starting engine on %s", e.root)

	if err := e.seed(ctx); err != nil {
		e.config.Logger.Printf("Warning: failed to load processed index: %v", err)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	e.startWorker(workerCtx)

	var events <-chan FileEvent
	var watchErrs <-chan error
	if fw, err := e.startWatcher(); err != nil {
		e.config.Logger.Printf("Event watcher unavailable, falling back to interval scanning only: %v", err)
	} else {
		e.mu.Lock()
		e.watcher = fw
		e.mu.Unlock()
		events = fw.Events()
		watchErrs = fw.Errors()
		e.config.Logger.Printf("Watching %s for image changes", e.root)
	}

	e.Scan(e.root)

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.config.Logger.Println("Shutdown signal received")
			e.shutdown(stopWorker)
			return nil

		case <-ticker.C:
			e.Scan(e.root)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.settler.Trigger(event.Path)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			e.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (e *Engine) startWatcher() (*FileWatcher, error) {
	fw, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Start(e.root); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

func (e *Engine) shutdown(stopWorker context.CancelFunc) {
	e.settler.Stop()
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			e.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	stopWorker()
	e.workerWG.Wait()

	e.mu.Lock()
	dropped := len(e.queue)
	e.queue = nil
	e.inFlight = make(map[string]struct{})
	e.mu.Unlock()

	if dropped > 0 {
		e.config.Logger.Printf("Dropped %d queued images; they will be found by the next startup scan", dropped)
	}
	e.config.Logger.Println("Engine stopped")
}

func (e *Engine) seed(ctx context.Context) error {
	if e.config.Index == nil {
		return nil
	}
	loaded, err := e.config.Index.Load(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for path, mtime := range loaded {
		e.processed[path] = mtime
	}
	e.mu.Unlock()

	e.config.Logger.Printf("Loaded %d processed entries", len(loaded))
	return nil
}

// Inspect enqueues path when it is an image that is new or strictly newer
// than when it was last enqueued, and not already queued or processing.
// Missing files, directories and non-images are ignored silently.
// It reports whether the path was enqueued.
func (e *Engine) Inspect(path string) bool {
	if !pathkey.IsImage(path) || e.excluded(path) {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	path = filepath.Clean(path)
	modTime := info.ModTime()

	e.mu.Lock()
	if _, ok := e.inFlight[path]; ok {
		e.mu.Unlock()
		return false
	}
	if last, ok := e.processed[path]; ok && !modTime.After(last) {
		e.mu.Unlock()
		return false
	}

	item := WorkItem{
		ID:       uuid.NewString(),
		Path:     path,
		ModTime:  modTime,
		QueuedAt: time.Now(),
	}
	e.inFlight[path] = struct{}{}
	e.queue = append(e.queue, item)
	e.mu.Unlock()

	e.config.Logger.Printf("Queued %s", path)
	for _, o := range e.config.Observers {
		o.OnQueued(item)
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Scan walks dir recursively in directory-listing order, inspecting every
// file. An unreadable directory is logged and skipped. Directories are
// registered with the event watcher as they are seen.
// It returns the number of images enqueued.
func (e *Engine) Scan(dir string) int {
	start := time.Now()
	queued := e.scan(dir)
	for _, o := range e.config.Observers {
		o.OnScanComplete(dir, queued, time.Since(start))
	}
	return queued
}

func (e *Engine) scan(dir string) int {
	if e.excluded(dir) {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		e.config.Logger.Printf("Cannot read directory %s: %v", dir, err)
		return 0
	}

	e.mu.Lock()
	fw := e.watcher
	e.mu.Unlock()

	queued := 0
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if e.excluded(full) {
				continue
			}
			if fw != nil {
				if err := fw.AddDir(full); err != nil {
					e.config.Logger.Printf("Warning: %v", err)
				}
			}
			queued += e.scan(full)
			continue
		}
		if e.Inspect(full) {
			queued++
		}
	}
	return queued
}

// inspectSettled handles a path once its events have settled.
// A newly created directory is scanned because the files moved in with it
// produce no events of their own.
func (e *Engine) inspectSettled(path string) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		e.Scan(path)
		return
	}
	e.Inspect(path)
}

// excluded reports whether path is, or lies under, an excluded directory.
func (e *Engine) excluded(path string) bool {
	if len(e.exclude) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range e.exclude {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ProcessedAt returns the mtime recorded for path when it was last processed.
func (e *Engine) ProcessedAt(path string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.processed[filepath.Clean(path)]
	return t, ok
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Queued:    len(e.queue),
		InFlight:  len(e.inFlight),
		Processed: len(e.processed),
		Busy:      e.busy,
		Watching:  e.watcher != nil && e.watcher.IsRunning(),
	}
}
