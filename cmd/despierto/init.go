package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fmarino/despierto/internal/defaults"
)

// runInit initializes a working directory with default files: an
// example config and persona. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Despierto workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config holds the bot token reference, keep it user-only.
	configPath := filepath.Join(dir, "despierto.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	personaPath := filepath.Join(dir, "persona.md")
	if err := writeIfMissing(personaPath, defaults.PersonaMD, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", personaPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set TELEGRAM_BOT_TOKEN and edit despierto.yaml, then run: despierto serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, mode)
}
