package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blankquiz"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "", "validate", "[blank_1] and [blank_2]", "--positions", "1,2")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	var report blankquiz.BlankTextReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if !report.IsSynchronized || len(report.Positions) != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestValidateCommandFindings(t *testing.T) {
	out, err := runCLI(t, "", "validate", "[blank_1] [blank_x]", "-p", "1,3")
	if !errors.Is(err, errFindings) {
		t.Fatalf("err = %v, want errFindings", err)
	}
	var report blankquiz.BlankTextReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if len(report.InvalidTags) != 1 || len(report.ExtraConfigurations) != 1 || report.ExtraConfigurations[0] != 3 {
		t.Errorf("report = %+v", report)
	}
}

func TestValidateCommandGapsAreNotFatal(t *testing.T) {
	if _, err := runCLI(t, "", "validate", "[blank_1] [blank_3]", "-p", "1,3"); err != nil {
		t.Errorf("gaps alone should not fail: %v", err)
	}
}

func TestValidateCommandInputs(t *testing.T) {
	if _, err := runCLI(t, "[blank_1]", "validate", "--file", "-", "-p", "1"); err != nil {
		t.Errorf("stdin: %v", err)
	}

	path := filepath.Join(t.TempDir(), "q.txt")
	if err := os.WriteFile(path, []byte("[blank_1]"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "", "validate", "-f", path, "-p", "1"); err != nil {
		t.Errorf("file: %v", err)
	}

	if _, err := runCLI(t, "", "validate", "text", "-f", path); err == nil || errors.Is(err, errFindings) {
		t.Errorf("argument and file together should be a usage error, got %v", err)
	}
	if _, err := runCLI(t, "", "validate"); err == nil || errors.Is(err, errFindings) {
		t.Errorf("missing text should be a usage error, got %v", err)
	}
}

func TestConfigCommandRedacts(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	out, err := runCLI(t, "", "config", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "sk-very-secret") || !strings.Contains(out, "[REDACTED]") {
		t.Errorf("config output:\n%s", out)
	}
}

func TestGenerateCommandRequiresTopic(t *testing.T) {
	_, err := runCLI(t, "", "generate", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "topic is required") {
		t.Errorf("err = %v", err)
	}
}
