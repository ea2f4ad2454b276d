package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"Despierto", "version:", "go_version:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), &stdout, &stderr, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, `"version"`) || !strings.Contains(out, `"go_version"`) {
		t.Errorf("output is not version JSON:\n%s", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), &stdout, &stderr, []string{"fiesta"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), &stdout, &stderr, []string{"-frob"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRunHelpPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), &stdout, &stderr, []string{"--help"}); err != nil {
		t.Fatalf("run --help: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"serve", "init", "version", "-config"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage missing %q:\n%s", want, out)
		}
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), &stdout, &stderr, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}
