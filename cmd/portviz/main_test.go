// ABOUTME: Tests for the portviz CLI entrypoint covering flag parsing, config precedence,
// ABOUTME: logger selection, store and index startup, and run exit codes.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389-research/portviz/config"
	"github.com/2389-research/portviz/layout"
	"github.com/adrg/xdg"
)

// isolateConfig clears PORTVIZ_* variables and points XDG lookups at an empty
// directory so a developer's own config cannot leak into tests.
func isolateConfig(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvConfigFile,
		config.EnvStorageDir,
		config.EnvPort,
		config.EnvBindHost,
		config.EnvStaticDir,
		config.EnvIndexFile,
		config.EnvIndexDB,
		config.EnvNoIndex,
		config.EnvAllowRemote,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_DIRS", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- parseFlags tests ---

func TestParseFlagsDefaults(t *testing.T) {
	cli, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cli.port != config.DefaultPort {
		t.Errorf("expected default port=%d, got %d", config.DefaultPort, cli.port)
	}
	if cli.storageDir != config.DefaultStorageDir {
		t.Errorf("expected default storageDir=%q, got %q", config.DefaultStorageDir, cli.storageDir)
	}
	if cli.bindHost != config.DefaultBindHost {
		t.Errorf("expected default bindHost=%q, got %q", config.DefaultBindHost, cli.bindHost)
	}
	if cli.verbose || cli.logJSON || cli.showVersion || cli.noIndex || cli.allowRemote {
		t.Error("expected boolean flags to default to false")
	}
	if len(cli.set) != 0 {
		t.Errorf("expected no flags marked as set, got %v", cli.set)
	}
}

func TestParseFlagsRecordsSetFlags(t *testing.T) {
	cli, err := parseFlags([]string{"-port", "9000", "-storage-dir", "/tmp/models", "-no-index", "-verbose"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cli.port != 9000 {
		t.Errorf("expected port=9000, got %d", cli.port)
	}
	if cli.storageDir != "/tmp/models" {
		t.Errorf("expected storageDir=/tmp/models, got %q", cli.storageDir)
	}
	for _, name := range []string{"port", "storage-dir", "no-index", "verbose"} {
		if !cli.set[name] {
			t.Errorf("expected flag %q to be marked as set", name)
		}
	}
	if cli.set["bind"] {
		t.Error("expected bind to be unset")
	}
}

func TestParseFlagsRejectsPositionalArgs(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseFlags([]string{"extra"}, &stderr); err == nil {
		t.Fatal("expected error for positional argument")
	}
	if !strings.Contains(stderr.String(), "extra") {
		t.Errorf("expected stderr to name the argument, got %q", stderr.String())
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-help"}, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Error("expected -help to print usage")
	}
}

func TestParseFlagsUnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"-nope"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// --- buildConfig tests ---

func TestBuildConfigDefaults(t *testing.T) {
	isolateConfig(t)

	cli, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := buildConfig(cli)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8002" {
		t.Errorf("expected default addr 127.0.0.1:8002, got %q", cfg.Addr())
	}
}

func TestBuildConfigPrecedence(t *testing.T) {
	isolateConfig(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "portviz.yaml")
	yaml := "port: 7000\nstorageDir: from-file\nstaticDir: static-from-file\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvStorageDir, "from-env")
	t.Setenv(config.EnvPort, "7100")

	cli, err := parseFlags([]string{"-config", cfgPath, "-port", "7200"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := buildConfig(cli)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}

	if cfg.Port != 7200 {
		t.Errorf("expected flag port 7200 to win, got %d", cfg.Port)
	}
	if cfg.StorageDir != "from-env" {
		t.Errorf("expected env storageDir to beat file, got %q", cfg.StorageDir)
	}
	if cfg.StaticDir != "static-from-file" {
		t.Errorf("expected file staticDir, got %q", cfg.StaticDir)
	}
}

func TestBuildConfigUnsetFlagsDoNotOverride(t *testing.T) {
	isolateConfig(t)
	t.Setenv(config.EnvPort, "7300")

	cli, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := buildConfig(cli)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.Port != 7300 {
		t.Errorf("expected env port to survive default flag value, got %d", cfg.Port)
	}
}

func TestBuildConfigRejectsRemoteBind(t *testing.T) {
	isolateConfig(t)

	cli, err := parseFlags([]string{"-bind", "0.0.0.0"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildConfig(cli); !errors.Is(err, config.ErrNonLoopbackBind) {
		t.Fatalf("expected ErrNonLoopbackBind, got %v", err)
	}

	cli, err = parseFlags([]string{"-bind", "0.0.0.0", "-allow-remote"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildConfig(cli); err != nil {
		t.Fatalf("expected -allow-remote to permit bind, got %v", err)
	}
}

func TestBuildConfigMissingFile(t *testing.T) {
	isolateConfig(t)

	cli, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buildConfig(cli); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// --- logger tests ---

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(cliConfig{logJSON: true}, &buf)
	logger.Info("hello", "k", "v")

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	var buf bytes.Buffer
	newLogger(cliConfig{}, &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug suppressed by default, got %q", buf.String())
	}

	newLogger(cliConfig{verbose: true}, &buf).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected debug output with -verbose, got %q", buf.String())
	}
}

// --- openStore tests ---

func TestOpenStoreRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	existing := `{"deviceType":{"slug":"switch-24","model":"S24"},"ports":[1,2,3]}`
	if err := os.WriteFile(filepath.Join(dir, "switch-24"+layout.FileSuffix), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.StorageDir = dir

	store, closeStore, err := openStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()

	if _, err := os.Stat(filepath.Join(dir, config.DefaultIndexDBName)); err != nil {
		t.Fatalf("expected index database in storage dir: %v", err)
	}

	sums, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sums) != 1 || sums[0].Slug != "switch-24" || sums[0].DeviceModel != "S24" {
		t.Fatalf("expected rebuilt index with switch-24, got %+v", sums)
	}
}

func TestOpenStoreWithoutIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "models")

	cfg := config.Default()
	cfg.StorageDir = dir
	cfg.NoIndex = true

	store, closeStore, err := openStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()

	if _, err := os.Stat(filepath.Join(dir, config.DefaultIndexDBName)); !os.IsNotExist(err) {
		t.Errorf("expected no index database, stat err = %v", err)
	}
	sums, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sums) != 0 {
		t.Errorf("expected empty listing, got %+v", sums)
	}
}

// --- run tests ---

func TestRunInvalidConfigReturnsOne(t *testing.T) {
	isolateConfig(t)

	cli, err := parseFlags([]string{"-port", "0"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if code := run(cli); code != 1 {
		t.Errorf("expected exit code 1 for invalid port, got %d", code)
	}
}

func TestRunUnusableStorageDirReturnsOne(t *testing.T) {
	isolateConfig(t)

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cli, err := parseFlags([]string{"-storage-dir", filepath.Join(blocker, "models"), "-port", "1"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if code := run(cli); code != 1 {
		t.Errorf("expected exit code 1 for unusable storage dir, got %d", code)
	}
}
