// Package format renders raw exec results into truncated, size-annotated
// views. Pure functions: no I/O, no mutation of the input result.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"remote-exec-mcp/internal/session"
)

// Mode selects the rendering of a command result.
type Mode string

const (
	// ModeStructured produces the machine-readable payload.
	ModeStructured Mode = "json"
	// ModeText produces a human-readable block with explicit sections.
	ModeText Mode = "text"
)

// ParseMode maps a caller-supplied format string to a Mode, defaulting to
// text for anything unrecognized.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, string(ModeStructured)) {
		return ModeStructured
	}
	return ModeText
}

// Field is one truncated output stream with its truncation annotation.
type Field struct {
	Content        string
	Truncated      bool
	OriginalLength int
}

// ExecPayload is the structured render of a command result. Field names are
// part of the caller contract.
type ExecPayload struct {
	Stdout               string `json:"stdout"`
	Stderr               string `json:"stderr"`
	ExitCode             int    `json:"exit_code"`
	StdoutTruncated      bool   `json:"stdout_truncated"`
	StderrTruncated      bool   `json:"stderr_truncated"`
	StdoutOriginalLength int    `json:"stdout_original_length"`
	StderrOriginalLength int    `json:"stderr_original_length"`
	TimedOut             bool   `json:"timed_out"`
	DurationMs           int64  `json:"duration_ms"`
}

// RenderedOutput is the result of formatting one CommandResult.
type RenderedOutput struct {
	Mode       Mode
	Structured *ExecPayload
	Text       string
}

// Truncate cuts a field to at most limit bytes, prefix kept, and records
// the original length. The cut never splits a multibyte rune; the boundary
// snaps back to the start of the straddling rune. Content at or under the
// limit is unchanged.
func Truncate(s string, limit int) Field {
	f := Field{Content: s, OriginalLength: len(s)}
	if limit > 0 && len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		f.Content = s[:cut]
		f.Truncated = true
	}
	return f
}

// Render formats a command result. Truncation is applied independently to
// stdout and stderr.
func Render(result *session.CommandResult, limit int, mode Mode) RenderedOutput {
	stdout := Truncate(result.Stdout, limit)
	stderr := Truncate(result.Stderr, limit)

	if mode == ModeStructured {
		return RenderedOutput{
			Mode: ModeStructured,
			Structured: &ExecPayload{
				Stdout:               stdout.Content,
				Stderr:               stderr.Content,
				ExitCode:             result.ExitCode,
				StdoutTruncated:      stdout.Truncated,
				StderrTruncated:      stderr.Truncated,
				StdoutOriginalLength: stdout.OriginalLength,
				StderrOriginalLength: stderr.OriginalLength,
				TimedOut:             result.TimedOut,
				DurationMs:           result.Duration.Milliseconds(),
			},
		}
	}

	return RenderedOutput{Mode: ModeText, Text: renderText(result, stdout, stderr)}
}

func renderText(result *session.CommandResult, stdout, stderr Field) string {
	var sections []string

	if stdout.Content != "" {
		s := "=== STDOUT ===\n" + stdout.Content
		if stdout.Truncated {
			s += fmt.Sprintf("\n[truncated: showing first %d of %d characters]", len(stdout.Content), stdout.OriginalLength)
		}
		sections = append(sections, s)
	}
	if stderr.Content != "" {
		s := "=== STDERR ===\n" + stderr.Content
		if stderr.Truncated {
			s += fmt.Sprintf("\n[truncated: showing first %d of %d characters]", len(stderr.Content), stderr.OriginalLength)
		}
		sections = append(sections, s)
	}

	meta := []string{fmt.Sprintf("=== EXIT CODE: %d ===", result.ExitCode)}
	if result.TimedOut {
		meta = append(meta, "[WARNING] EXECUTION TIMED OUT")
	}
	meta = append(meta, "Duration: "+result.Duration.Round(time.Millisecond).String())
	sections = append(sections, strings.Join(meta, "\n"))

	return strings.Join(sections, "\n\n")
}
