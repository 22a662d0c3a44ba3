// Command replog-init creates a fresh, empty replica store on disk, per
// spec §6: "initialization tool accepts --path=<dir>; exits 0 on
// success, non-zero on IO errors." It uses the standard flag package
// rather than a CLI framework (see DESIGN.md: a one-flag tool earns
// nothing from one).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("replog-init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "directory to hold the new replica's store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "replog-init: --path is required")
		return 2
	}

	if err := os.MkdirAll(*path, 0o755); err != nil {
		fmt.Fprintf(stderr, "replog-init: %v\n", err)
		return 1
	}

	dbPath := filepath.Join(*path, "replog.db")
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Fprintf(stderr, "replog-init: %s is already initialized\n", *path)
		return 1
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "replog-init: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.PersistMetadata(wire.Metadata{Status: wire.StatusVoting}); err != nil {
		fmt.Fprintf(stderr, "replog-init: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "initialized replica store at %s\n", dbPath)
	return 0
}
