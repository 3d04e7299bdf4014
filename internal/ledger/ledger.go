// Package ledger maintains the Markdown table that maps images to their alt text.
//
// The ledger is a full read-modify-write document, not an append log: every
// merge reads the whole table, upserts one row keyed by the image identity,
// and atomically rewrites the file. Merging the same image twice yields one
// row holding the latest content, in the position it was first written.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wpm/altwatch/internal/pathkey"
)

const (
	// HeaderLine is the fixed first line of every ledger.
	HeaderLine = "| Image | Title | Alt Text |"
	// SeparatorLine is the fixed second line of every ledger.
	SeparatorLine = "| --- | --- | --- |"
)

var separatorCell = regexp.MustCompile(`^:?-{3,}:?$`)

var (
	labelEscaper       = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)
	destinationEscaper = strings.NewReplacer(`\`, `\\`, `<`, `\<`, `>`, `\>`)
)

// Row is one tracked image in the ledger.
type Row struct {
	// Key is the normalized identity of the image. Unique within a ledger.
	Key string
	// Preview is the embedded image target, relative to the ledger directory.
	Preview string
	Title   string
	AltText string
}

// Table is the in-memory form of a ledger: rows in first-seen order.
type Table struct {
	rows *orderedmap.OrderedMap[string, Row]
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: orderedmap.New[string, Row]()}
}

// Upsert stores row under row.Key. An existing key keeps its position;
// a new key is appended after all existing rows.
func (t *Table) Upsert(row Row) {
	t.rows.Set(row.Key, row)
}

// Get returns the row stored under key.
func (t *Table) Get(key string) (Row, bool) {
	return t.rows.Get(key)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.rows.Len()
}

// Rows returns the rows in ledger order.
func (t *Table) Rows() []Row {
	rows := make([]Row, 0, t.rows.Len())
	for pair := t.rows.Oldest(); pair != nil; pair = pair.Next() {
		rows = append(rows, pair.Value)
	}
	return rows
}

// Read loads the ledger at path. A missing file is an empty ledger;
// any other read failure is returned.
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewTable(), nil
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse rebuilds a table from ledger text. Header, separator and non-table
// lines are skipped. The identity of each row is recovered from its preview
// target when present, otherwise from its title.
func Parse(text string) *Table {
	table := NewTable()

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if !strings.HasPrefix(line, "|") {
			continue
		}

		cells := splitCells(line)
		if isHeader(cells) || isSeparator(cells) {
			continue
		}
		for len(cells) < 3 {
			cells = append(cells, "")
		}

		row := Row{
			Title:   unescapeCell(cells[1]),
			AltText: unescapeCell(cells[2]),
		}
		if _, dest, ok := parseEmbed(unescapeCell(cells[0])); ok {
			row.Preview = dest
		}

		row.Key = pathkey.NormalizeKey(row.Preview)
		if row.Key == "" {
			row.Key = pathkey.NormalizeKey(row.Title)
		}
		if row.Key == "" {
			continue
		}
		table.Upsert(row)
	}

	return table
}

// Render produces the full ledger document for t.
func (t *Table) Render() string {
	var b strings.Builder
	b.WriteString(HeaderLine)
	b.WriteByte('\n')
	b.WriteString(SeparatorLine)
	b.WriteByte('\n')

	for pair := t.rows.Oldest(); pair != nil; pair = pair.Next() {
		row := pair.Value
		b.WriteString("| ")
		b.WriteString(escapeCell(previewCell(row)))
		b.WriteString(" | ")
		b.WriteString(escapeCell(row.Title))
		b.WriteString(" | ")
		b.WriteString(escapeCell(row.AltText))
		b.WriteString(" |\n")
	}

	return b.String()
}

func previewCell(row Row) string {
	if row.Preview == "" {
		return ""
	}
	return "![" + labelEscaper.Replace(row.Title) + "](<" + destinationEscaper.Replace(row.Preview) + ">)"
}

// parseEmbed reads a Markdown image embed `![label](<dest>)` or
// `![label](dest)`, undoing backslash escapes. It is the inverse of
// previewCell.
func parseEmbed(cell string) (label, dest string, ok bool) {
	if !strings.HasPrefix(cell, "![") {
		return "", "", false
	}
	label, rest, ok := readEscaped(cell[2:], ']')
	if !ok || !strings.HasPrefix(rest, "(") {
		return "", "", false
	}
	rest = rest[1:]

	if strings.HasPrefix(rest, "<") {
		dest, rest, ok = readEscaped(rest[1:], '>')
		if !ok || !strings.HasPrefix(rest, ")") {
			return "", "", false
		}
		return label, dest, true
	}

	// Bare destination: no spaces, ends at the first ')'.
	end := strings.IndexAny(rest, ") \t")
	if end < 0 || rest[end] != ')' {
		return "", "", false
	}
	return label, rest[:end], true
}

// readEscaped consumes s up to the first unescaped stop byte and returns
// the unescaped text before it and the remainder after it.
func readEscaped(s string, stop byte) (string, string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == stop:
			return b.String(), s[i+1:], true
		default:
			b.WriteByte(c)
		}
	}
	return "", "", false
}

// splitCells splits a table line on unescaped pipes, dropping the outer ones.
func splitCells(line string) []string {
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = strings.TrimSuffix(line, "|")
	}

	var (
		cells []string
		cur   strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && line[i+1] == '|' {
			cur.WriteString(`\|`)
			i++
			continue
		}
		if c == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func isHeader(cells []string) bool {
	if len(cells) < 3 {
		return false
	}
	return strings.EqualFold(cells[0], "Image") &&
		strings.EqualFold(cells[1], "Title") &&
		strings.EqualFold(cells[2], "Alt Text")
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if !separatorCell.MatchString(c) {
			return false
		}
	}
	return len(cells) > 0
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", "<br>")
}

func unescapeCell(s string) string {
	s = strings.ReplaceAll(s, `\|`, "|")
	return strings.ReplaceAll(s, "<br>", "\n")
}
