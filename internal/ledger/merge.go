package ledger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/wpm/altwatch/internal/pathkey"
	"github.com/wpm/altwatch/internal/pipeline"
)

// PendingManualAltText fills the alt text cell of a handed-off image.
const PendingManualAltText = "(pending manual response)"

// Merger upserts rows into ledger documents.
//
// Merges are serialized within a process by a mutex and across processes
// by an advisory lock file next to the ledger, so a pending drain and a
// running watcher cannot lose each other's rows.
type Merger struct {
	mu     sync.Mutex
	logger *log.Logger
}

// NewMerger creates a Merger. A nil logger discards output.
func NewMerger(logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Merger{logger: logger}
}

// Merge reads the ledger at path (empty when missing), upserts row and
// atomically rewrites the whole document.
func (m *Merger) Merge(path string, row Row) error {
	if row.Key == "" {
		return fmt.Errorf("ledger row for %q has no identity key", row.Title)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	lock := flock.New(LockPath(path))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock ledger %s: %w", path, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Printf("Warning: failed to unlock %s: %v", lock.Path(), err)
		}
	}()

	table, err := Read(path)
	if err != nil {
		return err
	}

	_, existed := table.Get(row.Key)
	table.Upsert(row)

	if err := WriteFileAtomic(path, []byte(table.Render()), 0644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", path, err)
	}

	if existed {
		m.logger.Printf("Updated ledger row %s in %s", row.Key, path)
	} else {
		m.logger.Printf("Added ledger row %s to %s (%d rows)", row.Key, path, table.Len())
	}
	return nil
}

// LockPath returns the advisory lock file guarding the ledger at path.
func LockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

// WriteFileAtomic replaces path with data using a temp file in the same
// directory followed by a rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// RowFromOutcome builds the ledger row for a pipeline outcome.
//
// The identity key prefers the preview reference, then the image path,
// then the title.
func RowFromOutcome(o *pipeline.Outcome) Row {
	title := o.Title
	if title == "" {
		title = pathkey.SuggestTitle(pathkey.Stem(o.ImagePath))
	}

	preview := pathkey.NormalizePath(o.PreviewRef)

	key := o.IdentityKey
	if key == "" {
		switch {
		case preview != "":
			key = preview
		case o.ImagePath != "":
			key = o.ImagePath
		default:
			key = title
		}
	}

	alt := o.AltText
	if alt == "" {
		if o.Status == pipeline.StatusManual {
			alt = PendingManualAltText
		} else {
			alt = `""`
		}
	}

	return Row{
		Key:     pathkey.NormalizeKey(key),
		Preview: preview,
		Title:   title,
		AltText: alt,
	}
}
