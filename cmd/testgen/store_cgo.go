//go:build cgo

package main

import "github.com/dusk-indust/testgen/internal/graph"

// indexStore opens the persistent KuzuDB index at dir for each job.
func indexStore(dir string) (func() (graph.Store, error), error) {
	return func() (graph.Store, error) {
		return graph.NewKuzuFileStore(dir)
	}, nil
}

func openIndex(dir string) (graph.Store, error) {
	return graph.NewKuzuFileStore(dir)
}
