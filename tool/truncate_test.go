package tool

import (
	"strings"
	"testing"
)

func TestTruncateOutputUnderLimit(t *testing.T) {
	out := TruncateOutput("short", 100, TruncateHeadTail)
	if out != "short" {
		t.Errorf("under-limit output must pass through, got %q", out)
	}
}

func TestTruncateOutputHeadTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := TruncateOutput(input, 200, TruncateHeadTail)

	if !strings.HasPrefix(out, strings.Repeat("a", 100)) {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail not preserved")
	}
	if !strings.Contains(out, "truncated") {
		t.Error("expected truncation marker")
	}
}

func TestTruncateOutputTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 100)
	out := TruncateOutput(input, 100, TruncateTail)
	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail mode must keep the end of the output")
	}
	if !strings.Contains(out, "First 500 characters were removed") {
		t.Errorf("expected removal notice, got %q", out)
	}
}

func TestTruncateLines(t *testing.T) {
	input := strings.TrimSuffix(strings.Repeat("line\n", 100), "\n")
	out := TruncateLines(input, 10)

	if got := strings.Count(out, "line"); got > 11 {
		t.Errorf("expected at most ~10 lines kept, got %d", got)
	}
	if !strings.Contains(out, "90 lines omitted") {
		t.Errorf("expected omission marker, got %q", out)
	}
}

func TestTruncateToolOutputUsesPerToolLimits(t *testing.T) {
	big := strings.Repeat("x", 60000)

	// write_file has a tight default cap.
	out := TruncateToolOutput(big, "write_file", nil, nil)
	if len(out) >= 60000 {
		t.Error("write_file output not truncated")
	}

	// Overrides win over defaults.
	out = TruncateToolOutput(big, "write_file", map[string]int{"write_file": 100000}, nil)
	if out != big {
		t.Error("override limit should keep full output")
	}
}
