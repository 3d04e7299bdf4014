package ledger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wpm/altwatch/internal/pathkey"
	"github.com/wpm/altwatch/internal/pipeline"
)

func newTestMerger() *Merger {
	return NewMerger(log.New(io.Discard, "", 0))
}

func readLedger(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}
	return string(data)
}

func TestMerge_CreatesLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "alt-text-log.md")
	m := newTestMerger()

	row := Row{Key: "cat.jpg", Preview: "cat.jpg", Title: "Cat", AltText: "A tabby cat asleep"}
	if err := m.Merge(path, row); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	want := HeaderLine + "\n" + SeparatorLine + "\n" +
		"| ![Cat](<cat.jpg>) | Cat | A tabby cat asleep |\n"
	if got := readLedger(t, path); got != want {
		t.Errorf("ledger =\n%s\nwant\n%s", got, want)
	}
}

func TestMerge_SameKeyYieldsOneRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.md")
	m := newTestMerger()

	first := Row{Key: "a/cat.jpg", Preview: "a/cat.jpg", Title: "Cat", AltText: "first"}
	second := Row{Key: "a/cat.jpg", Preview: "a/cat.jpg", Title: "Cat", AltText: "second"}

	if err := m.Merge(path, first); err != nil {
		t.Fatalf("first Merge() failed: %v", err)
	}
	if err := m.Merge(path, second); err != nil {
		t.Fatalf("second Merge() failed: %v", err)
	}

	table, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
	got, _ := table.Get("a/cat.jpg")
	if got.AltText != "second" {
		t.Errorf("AltText = %q, want %q", got.AltText, "second")
	}
}

func TestMerge_RowOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.md")
	m := newTestMerger()

	for _, name := range []string{"one.jpg", "two.jpg", "three.jpg"} {
		row := Row{Key: name, Preview: name, Title: name, AltText: "v1"}
		if err := m.Merge(path, row); err != nil {
			t.Fatalf("Merge(%s) failed: %v", name, err)
		}
	}

	// Existing key keeps its position.
	if err := m.Merge(path, Row{Key: "two.jpg", Preview: "two.jpg", Title: "two.jpg", AltText: "v2"}); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	// New key appends.
	if err := m.Merge(path, Row{Key: "four.jpg", Preview: "four.jpg", Title: "four.jpg", AltText: "v1"}); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	table, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	var keys []string
	for _, row := range table.Rows() {
		keys = append(keys, row.Key)
	}
	want := "one.jpg,two.jpg,three.jpg,four.jpg"
	if got := strings.Join(keys, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	row, _ := table.Get("two.jpg")
	if row.AltText != "v2" {
		t.Errorf("two.jpg AltText = %q, want v2", row.AltText)
	}
}

func TestMerge_RecreatesDeletedLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.md")
	m := newTestMerger()

	if err := m.Merge(path, Row{Key: "old.jpg", Preview: "old.jpg", Title: "Old", AltText: "old"}); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to delete ledger: %v", err)
	}
	if err := m.Merge(path, Row{Key: "new.jpg", Preview: "new.jpg", Title: "New", AltText: "new"}); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	want := HeaderLine + "\n" + SeparatorLine + "\n" +
		"| ![New](<new.jpg>) | New | new |\n"
	if got := readLedger(t, path); got != want {
		t.Errorf("ledger =\n%s\nwant\n%s", got, want)
	}
}

func TestMerge_ReadFailurePropagates(t *testing.T) {
	// A directory at the ledger path is not a "not found" error.
	path := filepath.Join(t.TempDir(), "ledger.md")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	err := newTestMerger().Merge(path, Row{Key: "x.jpg", Title: "X"})
	if err == nil {
		t.Fatal("Merge() should fail when the ledger cannot be read")
	}
}

func TestMerge_SeparateMergersShareLedger(t *testing.T) {
	// Two Mergers stand in for the watch and pending commands running as
	// separate processes against one ledger.
	path := filepath.Join(t.TempDir(), "alt-text-log.md")
	mergers := []*Merger{newTestMerger(), newTestMerger()}

	const perMerger = 20
	var wg sync.WaitGroup
	errs := make(chan error, len(mergers)*perMerger)
	for mi, m := range mergers {
		for i := 0; i < perMerger; i++ {
			wg.Add(1)
			go func(m *Merger, key string) {
				defer wg.Done()
				errs <- m.Merge(path, Row{Key: key, Preview: key, Title: key, AltText: "alt"})
			}(m, fmt.Sprintf("m%d-%02d.jpg", mi, i))
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Merge() failed: %v", err)
		}
	}

	table, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if table.Len() != len(mergers)*perMerger {
		t.Errorf("ledger has %d rows, want %d", table.Len(), len(mergers)*perMerger)
	}
	if _, err := os.Stat(LockPath(path)); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}

func TestMerge_EmptyKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.md")
	if err := newTestMerger().Merge(path, Row{Title: "x"}); err == nil {
		t.Error("Merge() should reject a row without a key")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("ledger should not be written for a rejected row")
	}
}

func TestParse_EscapesRoundTrip(t *testing.T) {
	table := NewTable()
	table.Upsert(Row{
		Key:     "set/a b.jpg",
		Preview: "set/a b.jpg",
		Title:   "Pipes | and [brackets]",
		AltText: "line one\nline two | with pipe",
	})

	rendered := table.Render()
	if strings.Count(rendered, "\n") != 3 {
		t.Fatalf("rendered row spans multiple lines:\n%s", rendered)
	}

	parsed := Parse(rendered)
	if parsed.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", parsed.Len())
	}
	got := parsed.Rows()[0]
	if got.Key != "set/a b.jpg" {
		t.Errorf("Key = %q", got.Key)
	}
	if got.Title != "Pipes | and [brackets]" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.AltText != "line one\nline two | with pipe" {
		t.Errorf("AltText = %q", got.AltText)
	}
}

func TestParse_KeyRecovery(t *testing.T) {
	text := strings.Join([]string{
		"# Alt text",
		"",
		HeaderLine,
		SeparatorLine,
		"| ![Cat](<ORIGINALS/A/Cat.JPG>) | Cat | a cat |",
		"| ![Dog](dog.png) | Dog | a dog |",
		"| | Untitled Sketch | lines |",
		"| | | |",
		"trailing prose",
	}, "\r\n")

	table := Parse(text)
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}

	wantKeys := []string{"originals/a/cat.jpg", "dog.png", "untitled sketch"}
	for i, row := range table.Rows() {
		if row.Key != wantKeys[i] {
			t.Errorf("row %d Key = %q, want %q", i, row.Key, wantKeys[i])
		}
	}
}

func TestParse_AwkwardNamesRoundTrip(t *testing.T) {
	names := []string{
		"a>b.png",
		"<lead.png",
		"paren).jpg",
		"close)>.gif",
		`back\slash.webp`,
		`trail\`,
		"pipe|name.jpg",
		"two  spaces .png",
		"[br] tag.jpg",
	}

	table := NewTable()
	for _, name := range names {
		table.Upsert(Row{
			Key:     pathkey.NormalizeKey(name),
			Preview: name,
			Title:   `Title \] of ` + name,
			AltText: "alt for " + name,
		})
	}

	parsed := Parse(table.Render())
	if parsed.Len() != len(names) {
		t.Fatalf("Len() = %d, want %d\n%s", parsed.Len(), len(names), table.Render())
	}
	for i, row := range parsed.Rows() {
		want := table.Rows()[i]
		if row.Key != want.Key || row.Preview != want.Preview || row.Title != want.Title {
			t.Errorf("row %d = %+v, want %+v", i, row, want)
		}
	}

	if again := Parse(parsed.Render()).Render(); again != table.Render() {
		t.Errorf("second round trip changed the document:\n%s\nwant\n%s", again, table.Render())
	}
}

func TestMerge_AwkwardPreviewStaysOneRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alt-text-log.md")
	m := newTestMerger()

	for _, alt := range []string{"first", "second", "third"} {
		row := RowFromOutcome(&pipeline.Outcome{
			Status:     pipeline.StatusOK,
			AltText:    alt,
			ImagePath:  "/w/a>b.png",
			PreviewRef: "a>b.png",
		})
		if err := m.Merge(path, row); err != nil {
			t.Fatalf("Merge() failed: %v", err)
		}
	}

	table, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("ledger has %d rows, want 1:\n%s", table.Len(), readLedger(t, path))
	}
	row, _ := table.Get("a>b.png")
	if row.Preview != "a>b.png" || row.AltText != "third" {
		t.Errorf("row = %+v", row)
	}
}

func TestRead_MissingIsEmpty(t *testing.T) {
	table, err := Read(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestRowFromOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome pipeline.Outcome
		want    Row
	}{
		{
			name: "preview reference wins",
			outcome: pipeline.Outcome{
				Status:     pipeline.StatusOK,
				AltText:    "A bridge",
				ImagePath:  "/watch/Set/Golden_Gate.JPG",
				PreviewRef: `ORIGINALS\Golden_Gate.JPG`,
			},
			want: Row{
				Key:     "originals/golden_gate.jpg",
				Preview: "ORIGINALS/Golden_Gate.JPG",
				Title:   "Golden Gate",
				AltText: "A bridge",
			},
		},
		{
			name: "falls back to image path",
			outcome: pipeline.Outcome{
				Status:    pipeline.StatusOK,
				AltText:   "x",
				ImagePath: "/Watch/Cat.jpg",
				Title:     "Kitty",
			},
			want: Row{Key: "/watch/cat.jpg", Title: "Kitty", AltText: "x"},
		},
		{
			name:    "manual pending",
			outcome: pipeline.Outcome{Status: pipeline.StatusManual, PreviewRef: "dog.png"},
			want:    Row{Key: "dog.png", Preview: "dog.png", Title: "Untitled Image", AltText: PendingManualAltText},
		},
		{
			name:    "decorative",
			outcome: pipeline.Outcome{Status: pipeline.StatusOK, PreviewRef: "rule.svg", Title: "Rule"},
			want:    Row{Key: "rule.svg", Preview: "rule.svg", Title: "Rule", AltText: `""`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RowFromOutcome(&tt.outcome)
			if got != tt.want {
				t.Errorf("RowFromOutcome() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
