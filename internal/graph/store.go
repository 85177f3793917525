package graph

import (
	"context"
	"fmt"
	"io"
)

// Store is the analysis index backend. Implementations: KuzuStore
// (persistent, cgo) and MemStore. Writes are idempotent so a file can be
// indexed again without duplicating nodes or edges.
type Store interface {
	io.Closer

	// InitSchema is called once before any data is inserted.
	InitSchema(ctx context.Context) error

	AddFile(ctx context.Context, node FileNode) error
	AddUnit(ctx context.Context, node UnitNode) error
	AddEdge(ctx context.Context, edge Edge) error

	// GetFile returns nil when the path is not indexed.
	GetFile(ctx context.Context, path string) (*FileNode, error)
	// FileUnits returns the units declared in a file, in source order.
	FileUnits(ctx context.Context, path string) ([]UnitNode, error)
	// QueryUnits returns units whose name contains query, case-insensitively.
	QueryUnits(ctx context.Context, query string, limit int) ([]UnitNode, error)
	// Importers returns the files importing module, sorted.
	Importers(ctx context.Context, module string) ([]string, error)

	Stats(ctx context.Context) (*IndexStats, error)
}

// Index writes one parse result into s: the file, its units with DECLARES
// edges and its imports with IMPORTS edges.
func Index(ctx context.Context, s Store, res *ParseResult) error {
	if err := s.AddFile(ctx, res.File); err != nil {
		return fmt.Errorf("graph: index %s: %w", res.File.Path, err)
	}
	for _, u := range res.Units {
		if err := s.AddUnit(ctx, u); err != nil {
			return fmt.Errorf("graph: index %s: %w", u.ID(), err)
		}
		if err := s.AddEdge(ctx, Edge{SourceID: res.File.Path, TargetID: u.ID(), Kind: EdgeDeclares}); err != nil {
			return fmt.Errorf("graph: index %s: %w", u.ID(), err)
		}
	}
	for _, imp := range res.Imports {
		if err := s.AddEdge(ctx, Edge{SourceID: res.File.Path, TargetID: imp, Kind: EdgeImports}); err != nil {
			return fmt.Errorf("graph: index import %s: %w", imp, err)
		}
	}
	return nil
}
