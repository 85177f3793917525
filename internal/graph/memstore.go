package graph

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Compile-time check.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	files map[string]FileNode
	units map[string]UnitNode // key: UnitNode.ID()
	edges map[Edge]struct{}
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string]FileNode),
		units: make(map[string]UnitNode),
		edges: make(map[Edge]struct{}),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

func (m *MemStore) AddFile(_ context.Context, node FileNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[node.Path] = node
	return nil
}

func (m *MemStore) AddUnit(_ context.Context, node UnitNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[node.ID()] = node
	return nil
}

func (m *MemStore) AddEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[edge] = struct{}{}
	return nil
}

func (m *MemStore) GetFile(_ context.Context, path string) (*FileNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *MemStore) FileUnits(_ context.Context, path string) ([]UnitNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UnitNode
	for _, u := range m.units {
		if u.FilePath == path {
			out = append(out, u)
		}
	}
	sortUnits(out)
	return out, nil
}

// QueryUnits returns up to limit matches; limit <= 0 returns all of them.
func (m *MemStore) QueryUnits(_ context.Context, query string, limit int) ([]UnitNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []UnitNode
	for _, u := range m.units {
		if strings.Contains(strings.ToLower(u.Name), q) {
			out = append(out, u)
		}
	}
	sortUnits(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) Importers(_ context.Context, module string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for e := range m.edges {
		if e.Kind == EdgeImports && e.TargetID == module {
			out = append(out, e.SourceID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *MemStore) Stats(_ context.Context) (*IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := &IndexStats{
		Files:      len(m.files),
		Units:      len(m.units),
		Edges:      len(m.edges),
		ByLanguage: make(map[Language]int),
	}
	for _, f := range m.files {
		st.LOC += f.LOC
		st.ByLanguage[f.Language]++
	}
	for _, u := range m.units {
		if u.Kind.Testable() {
			st.TestableUnits++
		}
	}
	return st, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

func sortUnits(us []UnitNode) {
	slices.SortFunc(us, func(a, b UnitNode) int {
		if c := strings.Compare(a.FilePath, b.FilePath); c != 0 {
			return c
		}
		if a.StartLine != b.StartLine {
			return a.StartLine - b.StartLine
		}
		return strings.Compare(a.QualifiedName(), b.QualifiedName())
	})
}
