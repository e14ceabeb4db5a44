package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const twoStages = `id: 11
name: Weights
start: 1
stages:
  - id: 1
    kind: mc
    name: warmup
    weight: 1
    next: 2
    mc:
      answers:
        - text: a
          tag: CORRECT
      default_result: 0
  - id: 2
    kind: fillin
    name: main
    weight: 3
    fillin:
      fields:
        - kind: text
      default_result: 0
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	good := writeFile(t, "good.yaml", twoStages)
	bad := writeFile(t, "bad.yaml", "id: 1\nstages:\n  - id: 1\n    kind: essay\n")

	out, err := execute("validate", good)
	if err != nil {
		t.Fatalf("validate good error = %v", err)
	}
	if !strings.Contains(out, "2 stages (mc 1, fillin 1, r 0)") {
		t.Errorf("validate output = %q", out)
	}

	out, err = execute("validate", good, bad)
	if !errors.Is(err, errInvalid) {
		t.Errorf("validate with a bad file error = %v, want errInvalid", err)
	}
	if !strings.Contains(out, "FAIL "+bad) {
		t.Errorf("validate output lacks the failing file: %q", out)
	}

	if _, err := execute("validate"); err == nil {
		t.Error("validate without files should fail")
	}
}

func TestWeightsCmd(t *testing.T) {
	path := writeFile(t, "w.yaml", twoStages)
	out, err := execute("weights", path)
	if err != nil {
		t.Fatalf("weights error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("weights printed %d lines, want 3:\n%s", len(lines), out)
	}
	if f := strings.Fields(lines[1]); f[0] != "1*" || f[3] != "1" || f[4] != "4" {
		t.Errorf("start stage row = %v, want weight 1 and 4 ahead", f)
	}
	if f := strings.Fields(lines[2]); f[0] != "2" || f[4] != "3" {
		t.Errorf("second stage row = %v, want 3 ahead", f)
	}
}

func TestFmtCmd(t *testing.T) {
	path := writeFile(t, "f.yaml", twoStages)

	out, err := execute("fmt", path)
	if err != nil {
		t.Fatalf("fmt error = %v", err)
	}
	if !strings.Contains(out, "name: Weights") {
		t.Errorf("fmt output = %q", out)
	}

	if _, err := execute("fmt", "-w", path); err != nil {
		t.Fatalf("fmt -w error = %v", err)
	}
	written, _ := os.ReadFile(path)
	if string(written) != out {
		t.Error("fmt -w should write the same canonical form fmt prints")
	}

	// canonical files are left alone
	again, err := execute("fmt", "-w", path)
	if err != nil || again != "" {
		t.Errorf("second fmt -w = %q, %v; want no output", again, err)
	}
}
