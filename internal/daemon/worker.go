package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/wpm/altwatch/internal/ledger"
	"github.com/wpm/altwatch/internal/pipeline"
)

// startWorker launches the single goroutine that drains the queue.
func (e *Engine) startWorker(ctx context.Context) {
	e.workerWG.Add(1)
	go e.worker(ctx)
}

func (e *Engine) worker(ctx context.Context) {
	defer e.workerWG.Done()

	for {
		item, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}

		e.process(ctx, item)

		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the head of the queue and marks the engine busy.
func (e *Engine) next() (WorkItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return WorkItem{}, false
	}
	item := e.queue[0]
	e.queue[0] = WorkItem{}
	e.queue = e.queue[1:]
	e.busy = true
	return item, true
}

func (e *Engine) process(ctx context.Context, item WorkItem) {
	for _, o := range e.config.Observers {
		o.OnStarted(item)
	}
	e.config.Logger.Printf("Processing %s", item.Path)

	start := time.Now()
	outcome := e.invoke(ctx, item.Path)
	elapsed := time.Since(start)

	if ctx.Err() != nil && outcome.Status == pipeline.StatusError {
		// Aborted by shutdown; leave it unrecorded so the next startup
		// scan picks it up again.
		e.mu.Lock()
		delete(e.inFlight, item.Path)
		e.busy = false
		e.mu.Unlock()
		e.config.Logger.Printf("Interrupted %s", item.Path)
		return
	}

	e.complete(item)

	if idx := e.config.Index; idx != nil {
		if err := idx.Record(context.WithoutCancel(ctx), item.Path, item.ModTime, outcome); err != nil {
			e.config.Logger.Printf("Warning: failed to persist %s: %v", item.Path, err)
		}
	}

	e.recordLedger(item.Path, outcome)

	if e.config.Reporter != nil {
		e.config.Reporter.Report(item.Path, outcome)
	}
	for _, o := range e.config.Observers {
		o.OnFinished(item, outcome, elapsed)
	}
}

// invoke runs the pipeline, converting errors and panics into an error
// outcome. The returned outcome is never nil.
func (e *Engine) invoke(ctx context.Context, path string) (outcome *pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Printf("Pipeline panic for %s: %v", path, r)
			outcome = pipeline.Failed(path, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	o, err := e.pipeline.Process(ctx, path)
	if err != nil {
		e.config.Logger.Printf("Failed to process %s: %v", path, err)
		return pipeline.Failed(path, err)
	}
	if o == nil {
		return pipeline.Failed(path, fmt.Errorf("pipeline returned no outcome"))
	}
	if o.ImagePath == "" {
		o.ImagePath = path
	}
	return o
}

// complete records the enqueue-time mtime and clears the in-flight mark.
func (e *Engine) complete(item WorkItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed[item.Path] = item.ModTime
	delete(e.inFlight, item.Path)
	e.busy = false
}

func (e *Engine) recordLedger(path string, o *pipeline.Outcome) {
	if e.config.Ledger == nil {
		return
	}
	if o.Status != pipeline.StatusOK && o.Status != pipeline.StatusManual {
		return
	}
	if o.DocPath == "" {
		e.config.Logger.Printf("Warning: no ledger document for %s", path)
		return
	}

	if err := e.config.Ledger.Merge(o.DocPath, ledger.RowFromOutcome(o)); err != nil {
		e.config.Logger.Printf("Failed to update ledger for %s: %v", path, err)
	}
}
