//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store on KuzuDB. It requires cgo because go-kuzu
// wraps KuzuDB's C library. A connection is not safe for concurrent queries,
// so callers serialize access (the analysis stage indexes from one
// goroutine).
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory database.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore opens or creates a persistent index at dbPath. KuzuDB
// creates the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// Node tables precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS File(
		path STRING,
		language STRING,
		loc INT64,
		PRIMARY KEY(path)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Unit(
		id STRING,
		name STRING,
		kind STRING,
		receiver STRING,
		exported BOOLEAN,
		file_path STRING,
		start_line INT64,
		end_line INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Module(
		name STRING,
		PRIMARY KEY(name)
	)`,
	`CREATE REL TABLE IF NOT EXISTS DECLARES(FROM File TO Unit)`,
	`CREATE REL TABLE IF NOT EXISTS IMPORTS(FROM File TO Module)`,
}

func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

func (s *KuzuStore) AddFile(_ context.Context, node FileNode) error {
	return s.exec(
		"MERGE (f:File {path: $path}) SET f.language = $lang, f.loc = $loc",
		map[string]any{
			"path": node.Path,
			"lang": string(node.Language),
			"loc":  int64(node.LOC),
		},
	)
}

func (s *KuzuStore) AddUnit(_ context.Context, node UnitNode) error {
	return s.exec(
		`MERGE (u:Unit {id: $id})
		 SET u.name = $name, u.kind = $kind, u.receiver = $recv, u.exported = $exported,
		     u.file_path = $fp, u.start_line = $sl, u.end_line = $el`,
		map[string]any{
			"id":       node.ID(),
			"name":     node.Name,
			"kind":     string(node.Kind),
			"recv":     node.Receiver,
			"exported": node.Exported,
			"fp":       node.FilePath,
			"sl":       int64(node.StartLine),
			"el":       int64(node.EndLine),
		},
	)
}

func (s *KuzuStore) AddEdge(_ context.Context, edge Edge) error {
	params := map[string]any{"src": edge.SourceID, "dst": edge.TargetID}
	switch edge.Kind {
	case EdgeDeclares:
		return s.exec(`MATCH (a:File {path: $src}), (b:Unit {id: $dst})
			MERGE (a)-[:DECLARES]->(b)`, params)
	case EdgeImports:
		if err := s.exec("MERGE (m:Module {name: $dst})", map[string]any{"dst": edge.TargetID}); err != nil {
			return err
		}
		return s.exec(`MATCH (a:File {path: $src}), (b:Module {name: $dst})
			MERGE (a)-[:IMPORTS]->(b)`, params)
	default:
		return fmt.Errorf("kuzu: unsupported edge kind: %s", edge.Kind)
	}
}

func (s *KuzuStore) GetFile(_ context.Context, path string) (*FileNode, error) {
	rows, err := s.query(
		"MATCH (f:File {path: $path}) RETURN f.path, f.language, f.loc",
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &FileNode{Path: toString(r[0]), Language: Language(toString(r[1])), LOC: toInt(r[2])}, nil
}

const unitColumns = "u.name, u.kind, u.receiver, u.exported, u.file_path, u.start_line, u.end_line"

func (s *KuzuStore) FileUnits(_ context.Context, path string) ([]UnitNode, error) {
	rows, err := s.query(
		"MATCH (f:File {path: $path})-[:DECLARES]->(u:Unit) RETURN "+unitColumns,
		map[string]any{"path": path},
	)
	if err != nil {
		return nil, err
	}
	return rowsToUnits(rows), nil
}

func (s *KuzuStore) QueryUnits(_ context.Context, query string, limit int) ([]UnitNode, error) {
	rows, err := s.query(
		"MATCH (u:Unit) WHERE lower(u.name) CONTAINS $q RETURN "+unitColumns,
		map[string]any{"q": strings.ToLower(query)},
	)
	if err != nil {
		return nil, err
	}
	units := rowsToUnits(rows)
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

func (s *KuzuStore) Importers(_ context.Context, module string) ([]string, error) {
	rows, err := s.query(
		"MATCH (f:File)-[:IMPORTS]->(m:Module {name: $name}) RETURN f.path",
		map[string]any{"name": module},
	)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	slices.Sort(out)
	return out, nil
}

func (s *KuzuStore) Stats(_ context.Context) (*IndexStats, error) {
	st := &IndexStats{ByLanguage: make(map[Language]int)}

	rows, err := s.query("MATCH (f:File) RETURN f.language, count(f), sum(f.loc)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		n := toInt(r[1])
		st.ByLanguage[Language(toString(r[0]))] = n
		st.Files += n
		st.LOC += toInt(r[2])
	}

	rows, err = s.query("MATCH (u:Unit) RETURN u.kind, count(u)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		n := toInt(r[1])
		st.Units += n
		if UnitKind(toString(r[0])).Testable() {
			st.TestableUnits += n
		}
	}

	for _, rel := range []string{"DECLARES", "IMPORTS"} {
		rows, err := s.query(fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r)", rel), nil)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			st.Edges += toInt(rows[0][0])
		}
	}
	return st, nil
}

// exec runs a parameterized statement that produces no rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a statement and collects every row in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var (
		res *kuzu.QueryResult
		err error
	)
	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func rowsToUnits(rows [][]any) []UnitNode {
	out := make([]UnitNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, UnitNode{
			Name:      toString(r[0]),
			Kind:      UnitKind(toString(r[1])),
			Receiver:  toString(r[2]),
			Exported:  toBool(r[3]),
			FilePath:  toString(r[4]),
			StartLine: toInt(r[5]),
			EndLine:   toInt(r[6]),
		})
	}
	sortUnits(out)
	return out
}

// KuzuDB returns typed values (int64, float64, bool, string).

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}
