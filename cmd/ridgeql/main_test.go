package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// runScript builds the ridgeql binary into a fresh temporary directory on
// every call and drives it with a sequence of input lines, returning the
// non-empty output lines.
func runScript(t *testing.T, commands []string) []string {
	t.Helper()

	dir := t.TempDir()
	binPath := filepath.Join(dir, "ridgeql_test_bin")
	dbPath := filepath.Join(dir, "test.db")

	build := exec.Command("go", "build", "-o", binPath, ".")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("failed to build: %v\n%s", err, out)
	}

	cmd := exec.Command(binPath, dbPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, command := range commands {
		io.WriteString(stdin, command+"\n")
	}
	stdin.Close()

	output, err := io.ReadAll(stdout)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	cmd.Wait()

	var result []string
	for _, line := range strings.Split(string(output), "\n") {
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}

func TestInsertAndRetrieveRow(t *testing.T) {
	result := runScript(t, []string{
		"insert 1 user1 person1@example.com",
		"select",
		".exit",
	})

	expected := []string{
		"db > Executed.",
		"db > (1, user1, person1@example.com)",
		"Executed.",
		"db > Bye!",
	}
	assertEqualSlices(t, expected, result)
}

func TestNegativeID(t *testing.T) {
	result := runScript(t, []string{
		"insert -1 cstack foo@bar.com",
		"select",
		".exit",
	})

	if len(result) < 2 {
		t.Fatalf("expected at least 2 output lines, got %v", result)
	}
	if result[0] != "db > ID must be positive." {
		t.Errorf("expected 'db > ID must be positive.', got %q", result[0])
	}
	if result[1] != "db > Executed." {
		t.Errorf("expected 'db > Executed.', got %q", result[1])
	}
}

func TestDuplicateKey(t *testing.T) {
	result := runScript(t, []string{
		"insert 1 user1 person1@example.com",
		"insert 1 user1 person1@example.com",
		".exit",
	})

	found := false
	for _, line := range result {
		if strings.Contains(line, "Error: Duplicate key.") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate key error, got %v", result)
	}
}

func TestMaxLengthStrings(t *testing.T) {
	longUsername := strings.Repeat("a", 32)
	longEmail := strings.Repeat("a", 255)

	result := runScript(t, []string{
		fmt.Sprintf("insert 1 %s %s", longUsername, longEmail),
		"select",
		".exit",
	})

	expected := []string{
		"db > Executed.",
		fmt.Sprintf("db > (1, %s, %s)", longUsername, longEmail),
		"Executed.",
		"db > Bye!",
	}
	assertEqualSlices(t, expected, result)
}

func TestStringTooLong(t *testing.T) {
	result := runScript(t, []string{
		fmt.Sprintf("insert 1 %s a@b.com", strings.Repeat("a", 33)),
		".exit",
	})

	if len(result) == 0 || result[0] != "db > String is too long." {
		t.Errorf("expected a string-too-long error, got %v", result)
	}
}

// TestManyRowsSurviveSplitsInOrder forces enough leaf splits (and an
// internal-node split boundary is out of reach at this row count, but
// several dozen leaf splits are not) that a `select` only returns every row
// in original key order if the leaf-to-leaf chain introduced for this
// purpose is followed correctly across every split.
func TestManyRowsSurviveSplitsInOrder(t *testing.T) {
	const n = 300

	var commands []string
	for i := 1; i <= n; i++ {
		commands = append(commands, fmt.Sprintf("insert %d user%d person%d@example.com", i, i, i))
	}
	commands = append(commands, "select", ".exit")

	result := runScript(t, commands)

	var selected []string
	for _, line := range result {
		if strings.HasPrefix(line, "db > (") || strings.HasPrefix(line, "(") {
			selected = append(selected, strings.TrimPrefix(line, "db > "))
		}
	}

	if len(selected) != n {
		t.Fatalf("expected %d selected rows, got %d", n, len(selected))
	}
	for i, line := range selected {
		want := fmt.Sprintf("(%d, user%d, person%d@example.com)", i+1, i+1, i+1)
		if line != want {
			t.Errorf("row %d: expected %q, got %q", i, want, line)
		}
	}
}

func assertEqualSlices(t *testing.T, expected, got []string) {
	t.Helper()
	if len(expected) != len(got) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if expected[i] != got[i] {
			t.Errorf("line %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}
