package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wpm/altwatch/internal/pipeline"
)

func TestLine(t *testing.T) {
	tests := []struct {
		name    string
		outcome *pipeline.Outcome
		want    string
	}{
		{
			name:    "ok with doc path",
			outcome: &pipeline.Outcome{Status: pipeline.StatusOK, DocPath: "/w/a/alt-text-log.md"},
			want:    "[OK] cat.jpg: Alt text logged to /w/a/alt-text-log.md.",
		},
		{
			name:    "ok without doc path",
			outcome: &pipeline.Outcome{Status: pipeline.StatusOK},
			want:    "[OK] cat.jpg: Alt text logged to unknown location.",
		},
		{
			name:    "manual with notes",
			outcome: &pipeline.Outcome{Status: pipeline.StatusManual, Notes: "Manual prompt created at /p/cat.jpg.prompt.md"},
			want:    "[MANUAL] cat.jpg: Manual prompt created at /p/cat.jpg.prompt.md",
		},
		{
			name:    "manual default",
			outcome: &pipeline.Outcome{Status: pipeline.StatusManual},
			want:    "[MANUAL] cat.jpg: Prompt ready for manual processing.",
		},
		{
			name:    "error",
			outcome: pipeline.Failed("/w/a/cat.jpg", errors.New("describe timed out")),
			want:    "[ERROR] cat.jpg: describe timed out",
		},
		{
			name:    "other status",
			outcome: &pipeline.Outcome{Status: pipeline.ParseStatus("Skipped")},
			want:    "[SKIPPED] cat.jpg: Refer to logs for more details.",
		},
		{
			name:    "nil outcome",
			outcome: nil,
			want:    "[UNKNOWN] cat.jpg: Refer to logs for more details.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Line("/w/a/cat.jpg", tt.outcome); got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReporter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Report("/w/dog.png", &pipeline.Outcome{Status: pipeline.StatusOK, DocPath: "ledger.md"})

	want := "[OK] dog.png: Alt text logged to ledger.md.\n"
	if buf.String() != want {
		t.Errorf("Report() wrote %q, want %q", buf.String(), want)
	}
}
