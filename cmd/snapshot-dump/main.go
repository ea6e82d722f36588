// Command snapshot-dump prints a stored AI articles snapshot and can copy it
// between the file and sqlite backends.
//
//	snapshot-dump <src> [dst]
//
// Paths ending in .db or .sqlite use the sqlite backend.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/output"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/snapshot"
)

type store interface {
	snapshot.Store
	Close() error
}

type fileStore struct{ *snapshot.FileStore }

func (fileStore) Close() error { return nil }

func open(path string) (store, error) {
	switch filepath.Ext(path) {
	case ".db", ".sqlite":
		return snapshot.NewSQLiteStore(path)
	default:
		return fileStore{snapshot.NewFileStore(path)}, nil
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: snapshot-dump <src> [dst]")
		return 2
	}
	ctx := context.Background()

	src, err := open(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer src.Close()

	snap, err := src.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load %s: %v\n", args[0], err)
		return 1
	}

	if err := output.WriteSnapshot(stdout, snap, len(snap.Articles), time.Now()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(args) < 2 {
		return 0
	}

	dst, err := open(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer dst.Close()

	if err := dst.Save(ctx, snap); err != nil {
		fmt.Fprintf(stderr, "Error: save %s: %v\n", args[1], err)
		return 1
	}
	fmt.Fprintf(stdout, "\nCopied %d articles to %s\n", len(snap.Articles), args[1])
	return 0
}
