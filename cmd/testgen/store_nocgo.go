//go:build !cgo

package main

import (
	"errors"

	"github.com/dusk-indust/testgen/internal/graph"
)

var errNoIndex = errors.New("persistent index requires a cgo build")

func indexStore(string) (func() (graph.Store, error), error) {
	return nil, errNoIndex
}

func openIndex(string) (graph.Store, error) {
	return nil, errNoIndex
}
