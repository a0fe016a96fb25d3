// ABOUTME: CLI entrypoint for portviz, the device layout model server.
// ABOUTME: Resolves config from file, env, and flags, opens the model store and index, and serves until signaled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389-research/portviz/config"
	"github.com/2389-research/portviz/layout"
	"github.com/2389-research/portviz/web"
)

var version = "dev"

// cliConfig holds command-line flags. Only flags the user actually set
// override the file and environment configuration.
type cliConfig struct {
	configFile  string
	storageDir  string
	port        int
	bindHost    string
	staticDir   string
	indexDB     string
	noIndex     bool
	allowRemote bool
	verbose     bool
	logJSON     bool
	showVersion bool

	set map[string]bool
}

func main() {
	if _, err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cli, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if cli.showVersion {
		fmt.Printf("portviz %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cli))
}

// parseFlags parses command-line flags and records which ones were set.
func parseFlags(args []string, stderr io.Writer) (cliConfig, error) {
	cli := cliConfig{set: map[string]bool{}}

	fs := flag.NewFlagSet("portviz", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cli.configFile, "config", "", "Path to YAML config file (default: $XDG_CONFIG_HOME/portviz/config.yaml)")
	fs.StringVar(&cli.storageDir, "storage-dir", config.DefaultStorageDir, "Directory for saved layout models")
	fs.IntVar(&cli.port, "port", config.DefaultPort, "Port to listen on")
	fs.StringVar(&cli.bindHost, "bind", config.DefaultBindHost, "Address to bind")
	fs.StringVar(&cli.staticDir, "static-dir", config.DefaultStaticDir, "Directory served as the front-end")
	fs.StringVar(&cli.indexDB, "index-db", "", "SQLite index path (default: <storage-dir>/"+config.DefaultIndexDBName+")")
	fs.BoolVar(&cli.noIndex, "no-index", false, "Disable the SQLite index and list models by scanning the directory")
	fs.BoolVar(&cli.allowRemote, "allow-remote", false, "Allow binding to a non-loopback address")
	fs.BoolVar(&cli.verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&cli.logJSON, "log-json", false, "Log as JSON")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(stderr, version)
	}

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument %q\n", fs.Arg(0))
		return cliConfig{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	fs.Visit(func(f *flag.Flag) {
		cli.set[f.Name] = true
	})
	return cli, nil
}

// buildConfig layers flags over the file and environment configuration and validates the result.
func buildConfig(cli cliConfig) (config.Config, error) {
	cfg, err := config.Load(cli.configFile)
	if err != nil {
		return config.Config{}, err
	}

	if cli.set["storage-dir"] {
		cfg.StorageDir = cli.storageDir
	}
	if cli.set["port"] {
		cfg.Port = cli.port
	}
	if cli.set["bind"] {
		cfg.BindHost = cli.bindHost
	}
	if cli.set["static-dir"] {
		cfg.StaticDir = cli.staticDir
	}
	if cli.set["index-db"] {
		cfg.IndexDB = cli.indexDB
	}
	if cli.set["no-index"] {
		cfg.NoIndex = cli.noIndex
	}
	if cli.set["allow-remote"] {
		cfg.AllowRemote = cli.allowRemote
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the verbosity flags.
func newLogger(cli cliConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cli.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cli.logJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore creates the model store, attaching and rebuilding the SQLite
// index when enabled. The returned close function releases the index.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*layout.Store, func(), error) {
	opts := []layout.StoreOption{layout.WithLogger(logger)}
	closeFn := func() {}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create storage dir: %w", err)
	}

	var idx *layout.SqliteIndex
	if path := cfg.IndexPath(); path != "" {
		var err error
		idx, err = layout.OpenIndex(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open index: %w", err)
		}
		opts = append(opts, layout.WithIndex(idx))
		closeFn = func() {
			if err := idx.Close(); err != nil {
				logger.Warn("closing index", "error", err)
			}
		}
	}

	store, err := layout.NewStore(cfg.StorageDir, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	if idx != nil {
		n, err := store.RebuildIndex(ctx)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		logger.Debug("index rebuilt", "path", cfg.IndexPath(), "models", n)
	}
	return store, closeFn, nil
}

// run starts the server and blocks until it stops.
// Returns an exit code: 0 for success, 1 for failure.
func run(cli cliConfig) int {
	logger := newLogger(cli, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := buildConfig(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Set up context with signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeStore()

	srv, err := web.NewServer(cfg, store, web.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger.Info("portviz starting",
		"version", version,
		"addr", srv.Addr(),
		"storage_dir", cfg.StorageDir,
		"static_dir", cfg.StaticDir,
		"index", cfg.IndexPath(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
