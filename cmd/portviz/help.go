// ABOUTME: Help display for the portviz CLI with grouped flags, examples, and environment variables.
package main

import (
	"fmt"
	"io"

	"github.com/2389-research/portviz/config"
)

// printHelp writes a formatted help message to w.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "portviz %s: device port layout model server\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  portviz [flags]")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server Flags:")
	fmt.Fprintf(w, "  -port <port>          Port to listen on (default: %d)\n", config.DefaultPort)
	fmt.Fprintf(w, "  -bind <addr>          Address to bind (default: %s)\n", config.DefaultBindHost)
	fmt.Fprintln(w, "  -allow-remote         Allow a non-loopback -bind address")
	fmt.Fprintf(w, "  -static-dir <dir>     Front-end directory (default: %s)\n", config.DefaultStaticDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage Flags:")
	fmt.Fprintf(w, "  -storage-dir <dir>    Saved model directory (default: %s)\n", config.DefaultStorageDir)
	fmt.Fprintf(w, "  -index-db <path>      SQLite index (default: <storage-dir>/%s)\n", config.DefaultIndexDBName)
	fmt.Fprintln(w, "  -no-index             List models by scanning the directory")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Other:")
	fmt.Fprintln(w, "  -config <file>        YAML config file")
	fmt.Fprintln(w, "  -verbose              Debug logging")
	fmt.Fprintln(w, "  -log-json             Log as JSON")
	fmt.Fprintln(w, "  -version              Print version and exit")
	fmt.Fprintln(w, "  -help                 Show this help")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
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
		fmt.Fprintf(w, "  %s\n", key)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Precedence: flags > environment > config file > defaults.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  portviz")
	fmt.Fprintln(w, "  portviz -port 8080 -storage-dir /srv/portviz/models")
	fmt.Fprintln(w, "  portviz -config /etc/portviz.yaml -verbose")
}
