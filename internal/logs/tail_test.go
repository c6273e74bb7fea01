package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetcheck.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestTail tests small files and line handling
func TestTail(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{name: "fewer lines than asked", content: "a\nb\n", n: 5, want: []string{"a", "b"}},
		{name: "last lines", content: "a\nb\nc\nd\n", n: 2, want: []string{"c", "d"}},
		{name: "no trailing newline", content: "a\nb\nc", n: 2, want: []string{"b", "c"}},
		{name: "crlf", content: "a\r\nb\r\n", n: 2, want: []string{"a", "b"}},
		{name: "empty lines skipped", content: "a\n\n\nb\n", n: 2, want: []string{"a", "b"}},
		{name: "unicode", content: "héllo 世界\nok\n", n: 2, want: []string{"héllo 世界", "ok"}},
		{name: "empty file", content: "", n: 3, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tail(writeLog(t, tt.content), tt.n)
			if err != nil {
				t.Fatalf("Tail() error = %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Tail() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestTail_LargeFile tests reading across chunk boundaries
func TestTail_LargeFile(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&sb, `{"level":"info","msg":"line %d"}`+"\n", i)
	}
	path := writeLog(t, sb.String())

	got, err := Tail(path, 3)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	want := []string{
		`{"level":"info","msg":"line 4997"}`,
		`{"level":"info","msg":"line 4998"}`,
		`{"level":"info","msg":"line 4999"}`,
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Tail() = %q, want %q", got, want)
	}

	got, err = Tail(path, 200)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(got) != 200 || got[0] != `{"level":"info","msg":"line 4800"}` {
		t.Errorf("Tail(200) first line = %q, len %d", got[0], len(got))
	}
}

// TestTail_Errors tests parameter validation
func TestTail_Errors(t *testing.T) {
	path := writeLog(t, "a\n")
	for _, n := range []int{0, -1, MaxLines + 1} {
		if _, err := Tail(path, n); err == nil {
			t.Errorf("Tail(%d) expected error", n)
		}
	}
	if _, err := Tail(filepath.Join(t.TempDir(), "missing.log"), 1); err == nil {
		t.Error("Tail() expected error for missing file")
	}
}
