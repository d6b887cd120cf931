package cli

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoadsRequestedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("HARVEST_CLI_TEST_VALUE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(EnvOverrideVar, "")
	t.Setenv("HARVEST_CLI_TEST_VALUE", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	loader := AddEnvFlag(fs, ".env", "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	got, err := loader.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != path {
		t.Fatalf("unexpected loaded path: got %q want %q", got, path)
	}
	if value := os.Getenv("HARVEST_CLI_TEST_VALUE"); value != "loaded" {
		t.Fatalf("expected env value to be loaded, got %q", value)
	}
}

func TestEnvLoaderReportsMissingFile(t *testing.T) {
	t.Setenv(EnvOverrideVar, "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	loader := AddEnvFlag(fs, filepath.Join(t.TempDir(), "missing.env"), "")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
