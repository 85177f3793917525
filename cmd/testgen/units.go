package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// runUnits queries the persistent analysis index written by
// `testgen run --index-dir` and prints the matching units with their
// neighbours in the same file. Prints nothing if no index exists.
func runUnits(args []string, stdout io.Writer) error {
	var (
		projectRoot string
		indexDir    string
		limit       int
	)
	fs := flag.NewFlagSet("units", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "project directory")
	fs.StringVar(&indexDir, "index-dir", ".testgen/index", "index directory")
	fs.IntVar(&limit, "limit", 10, "maximum units to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pattern := strings.Join(fs.Args(), " ")
	if pattern == "" {
		return fmt.Errorf("usage: testgen units [flags] <pattern>")
	}

	if !filepath.IsAbs(indexDir) {
		indexDir = filepath.Join(projectRoot, indexDir)
	}
	if _, err := os.Stat(indexDir); err != nil {
		return nil
	}

	store, err := openIndex(indexDir)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	units, err := store.QueryUnits(ctx, pattern, limit)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Units matching %q:\n", pattern)
	for _, u := range units {
		fmt.Fprintf(&sb, "  %-8s %s  %s:%d", u.Kind, u.QualifiedName(), u.FilePath, u.StartLine)
		if u.Exported {
			sb.WriteString(" (exported)")
		}
		if !u.Kind.Testable() {
			sb.WriteString(" (not testable)")
		}
		sb.WriteString("\n")
	}

	primary := units[0].FilePath
	siblings, err := store.FileUnits(ctx, primary)
	if err == nil && len(siblings) > 1 {
		fmt.Fprintf(&sb, "\nAlso in %s:\n", primary)
		for _, u := range siblings {
			if u.ID() == units[0].ID() {
				continue
			}
			fmt.Fprintf(&sb, "  %-8s %s\n", u.Kind, u.QualifiedName())
		}
	}

	fmt.Fprint(stdout, sb.String())
	return nil
}
