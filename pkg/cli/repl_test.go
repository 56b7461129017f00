// pkg/cli/repl_test.go
package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestREPL(t *testing.T, input string) (*REPL, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	errOutput := &bytes.Buffer{}
	repl, err := NewREPLWithInput(":memory:", strings.NewReader(input), output, errOutput)
	if err != nil {
		t.Fatalf("NewREPLWithInput failed: %v", err)
	}
	t.Cleanup(func() { repl.Close() })
	return repl, output, errOutput
}

func mustExecute(t *testing.T, repl *REPL, line string) {
	t.Helper()
	if err := repl.Execute(line); err != nil {
		t.Fatalf("%s failed: %v", line, err)
	}
}

func TestREPL_Execute(t *testing.T) {
	repl, output, _ := newTestREPL(t, "")

	mustExecute(t, repl, ".create users string")
	mustExecute(t, repl, `put alice "Alice Liddell"`)
	mustExecute(t, repl, "put bob Bob")

	output.Reset()
	mustExecute(t, repl, "get alice")
	if got := output.String(); got != "Alice Liddell\n" {
		t.Errorf("get alice printed %q", got)
	}

	output.Reset()
	mustExecute(t, repl, "put bob Robert")
	if !strings.Contains(output.String(), "already exists") {
		t.Errorf("duplicate put printed %q", output.String())
	}

	output.Reset()
	mustExecute(t, repl, "del bob")
	mustExecute(t, repl, "get bob")
	if got := output.String(); got != "erased\n(not found)\n" {
		t.Errorf("del then get printed %q", got)
	}
}

func TestREPL_Execute_Errors(t *testing.T) {
	repl, _, _ := newTestREPL(t, "")

	if err := repl.Execute("get 1"); !errors.Is(err, errNoTree) {
		t.Errorf("expected errNoTree, got %v", err)
	}
	mustExecute(t, repl, ".create nums")
	if err := repl.Execute("get one"); err == nil {
		t.Error("expected error for a non-integer key")
	}
	if err := repl.Execute("put 1"); err == nil {
		t.Error("expected usage error")
	}
	if err := repl.Execute("frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
	if err := repl.Execute(".use missing"); err == nil {
		t.Error("expected error for a missing tree")
	}
	if err := repl.Execute(".create nums"); err == nil {
		t.Error("expected error for a duplicate tree")
	}
}

func TestREPL_Scan(t *testing.T) {
	repl, output, _ := newTestREPL(t, "")
	mustExecute(t, repl, ".create nums int")
	for _, line := range []string{"put 3 three", "put 1 one", "put 2 two", "put 10 ten"} {
		mustExecute(t, repl, line)
	}

	output.Reset()
	mustExecute(t, repl, "scan 2 3")
	result := output.String()
	if !strings.Contains(result, "| key | value |") {
		t.Errorf("output should contain column headers, got:\n%s", result)
	}
	if !strings.Contains(result, "two") || !strings.Contains(result, "three") || strings.Contains(result, "ten") {
		t.Errorf("unexpected scan rows:\n%s", result)
	}
	if !strings.Contains(result, "2 row(s)") {
		t.Errorf("expected 2 rows:\n%s", result)
	}

	output.Reset()
	mustExecute(t, repl, "scan - 2")
	if !strings.Contains(output.String(), "2 row(s)") {
		t.Errorf("open lower bound scan:\n%s", output.String())
	}

	output.Reset()
	mustExecute(t, repl, "count")
	if output.String() != "4\n" {
		t.Errorf("count printed %q", output.String())
	}
}

func TestREPL_DotCommands(t *testing.T) {
	repl, output, errOutput := newTestREPL(t, "")
	mustExecute(t, repl, ".create a")
	mustExecute(t, repl, ".create b string")
	mustExecute(t, repl, ".use a")
	mustExecute(t, repl, "put 1 x")

	output.Reset()
	mustExecute(t, repl, ".trees")
	if !strings.Contains(output.String(), "| a ") || !strings.Contains(output.String(), "| string ") {
		t.Errorf(".trees printed:\n%s", output.String())
	}
	if !strings.Contains(output.String(), "2 row(s)") {
		t.Errorf(".trees should list 2 trees:\n%s", output.String())
	}

	output.Reset()
	mustExecute(t, repl, ".stats")
	if !strings.Contains(output.String(), "trees:     2") {
		t.Errorf(".stats printed:\n%s", output.String())
	}

	output.Reset()
	mustExecute(t, repl, ".dump")
	if !strings.Contains(output.String(), "tree a") || !strings.Contains(output.String(), "RootLeaf") {
		t.Errorf(".dump printed:\n%s", output.String())
	}

	output.Reset()
	mustExecute(t, repl, "check")
	if output.String() != "ok\n" {
		t.Errorf("check printed %q", output.String())
	}

	mustExecute(t, repl, ".drop a")
	if err := repl.Execute("get 1"); !errors.Is(err, errNoTree) {
		t.Errorf("dropping the current tree should deselect it, got %v", err)
	}

	mustExecute(t, repl, ".bogus")
	if !strings.Contains(errOutput.String(), "Unknown command: .bogus") {
		t.Errorf("unexpected error output: %q", errOutput.String())
	}
}

func TestREPL_Run(t *testing.T) {
	repl, output, errOutput := newTestREPL(t, ".create t\nput 1 hello\nget 1\n.exit\nget 1\n")

	repl.Run()

	if errOutput.Len() > 0 {
		t.Errorf("unexpected error output: %s", errOutput.String())
	}
	if strings.Count(output.String(), "hello") != 1 {
		t.Errorf("expected one get before .exit, got: %s", output.String())
	}
}

func TestREPL_Run_ReportsErrors(t *testing.T) {
	repl, _, errOutput := newTestREPL(t, "get 1\n")

	repl.Run()

	if !strings.Contains(errOutput.String(), "Error: no tree selected") {
		t.Errorf("unexpected error output: %q", errOutput.String())
	}
}

func TestREPL_OpenWithBadPath(t *testing.T) {
	_, err := NewREPL("/nonexistent/path/test.db", &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestREPL_ReopenSelectsOnlyTree(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repl, err := NewREPLWithInput(dbPath, strings.NewReader(""), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("NewREPLWithInput failed: %v", err)
	}
	mustExecute(t, repl, ".create only string")
	mustExecute(t, repl, "put k v")
	if err := repl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	output := &bytes.Buffer{}
	repl, err = NewREPLWithInput(dbPath, strings.NewReader(""), output, nil)
	if err != nil {
		t.Fatalf("NewREPLWithInput failed: %v", err)
	}
	defer repl.Close()
	mustExecute(t, repl, "get k")
	if output.String() != "v\n" {
		t.Errorf("get k printed %q", output.String())
	}
}
