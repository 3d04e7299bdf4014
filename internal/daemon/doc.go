// Package daemon watches a directory tree for images and feeds each new or
// changed image through a Pipeline, one at a time.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - FileWatcher: recursive fsnotify watching, new directories added as they appear
//   - settler: per-path quiet period before an event is acted on
//   - Engine: dedup gate, FIFO work queue and the single worker
//
// Two triggers feed the same gate. Events from the FileWatcher are settled
// and then inspected one path at a time; a periodic scan walks the whole tree
// as a safety net for missed events. Either trigger may fire for the same
// file without producing duplicate work:
//
//	cfg := daemon.DefaultConfig()
//	cfg.Ledger = ledger.NewMerger(logger)
//	cfg.Reporter = report.New(os.Stdout)
//
//	e, err := daemon.NewWithConfig("/path/to/images", processor, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := e.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Dedup gate
//
// A path is enqueued only when its mtime is strictly newer than the mtime
// captured when it was last enqueued and it is not already queued or being
// processed. The processed index is updated when the job finishes, even when
// the pipeline fails, so a failing image is retried only after it changes.
//
// # Shutdown
//
// Cancelling the context passed to Run stops the watcher and the poll loop.
// The job in progress sees the cancellation through its own context; queued
// jobs are dropped and rediscovered by the startup scan of the next run.
package daemon
