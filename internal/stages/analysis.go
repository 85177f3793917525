package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Compile-time check.
var _ orchestrator.StageExecutor = (*Analysis)(nil)

// maxSourceSize skips generated or vendored blobs that are not worth parsing.
const maxSourceSize = 1 << 20

// skipDirs are never descended into, in addition to the job's ExcludeDirs.
var skipDirs = []string{"node_modules", "vendor", "__pycache__", "target", "dist", "build"}

// AnalyzedFile is one parsed source file.
type AnalyzedFile struct {
	Path     string           `json:"path"` // slash-separated, relative to the source root
	Language graph.Language   `json:"language"`
	LOC      int              `json:"loc"`
	Units    []graph.UnitNode `json:"units"`
	Imports  []string         `json:"imports,omitempty"`
}

// Testable returns the units that should receive tests.
func (f AnalyzedFile) Testable() []graph.UnitNode {
	var out []graph.UnitNode
	for _, u := range f.Units {
		if u.Kind.Testable() {
			out = append(out, u)
		}
	}
	return out
}

// AnalysisOutput is the file-analysis stage's output.
type AnalysisOutput struct {
	Root   string           `json:"root"`
	Files  []AnalyzedFile   `json:"files"` // parsed files in path order
	Failed []string         `json:"failed,omitempty"`
	Stats  graph.IndexStats `json:"stats"`
}

// TestableUnits counts the units across all files that should get tests.
func (o *AnalysisOutput) TestableUnits() int {
	n := 0
	for _, f := range o.Files {
		n += len(f.Testable())
	}
	return n
}

// fileSummary is the data attached to file-analyzed items.
type fileSummary struct {
	Language graph.Language `json:"language"`
	LOC      int            `json:"loc"`
	Units    int            `json:"units"`
	Testable int            `json:"testable"`
}

// Analysis walks the job's source tree, parses every supported file and
// indexes the results.
type Analysis struct {
	parser   graph.Parser
	newStore func() (graph.Store, error)
	workers  int
}

// NewAnalysis creates the file-analysis stage.
func NewAnalysis(parser graph.Parser, newStore func() (graph.Store, error), workers int) *Analysis {
	return &Analysis{parser: parser, newStore: newStore, workers: max(workers, 1)}
}

type sourceFile struct {
	rel  string
	abs  string
	lang graph.Language
}

func (a *Analysis) Run(ctx context.Context, sc orchestrator.StageContext, emit orchestrator.Emitter) orchestrator.Outcome {
	root := sc.Config.Source
	langs, err := a.languages(sc.Config.Languages)
	if err != nil {
		return orchestrator.Fatal(err)
	}
	files, err := discover(ctx, root, langs, sc.Config.ExcludeDirs, OutputDir(sc.Config))
	if err != nil {
		return orchestrator.Fatal(err)
	}
	if len(files) == 0 {
		return orchestrator.Fatal(fmt.Errorf("analysis: no supported source files under %s", root))
	}

	store, err := a.newStore()
	if err != nil {
		return orchestrator.Fatal(fmt.Errorf("analysis: open index: %w", err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("analysis: close index: %v", err)
		}
	}()
	if err := store.InitSchema(ctx); err != nil {
		return orchestrator.Fatal(fmt.Errorf("analysis: init index: %w", err))
	}

	var (
		mu      sync.Mutex
		done    int
		results = make([]*graph.ParseResult, len(files))
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := emit.Checkpoint(); err != nil {
				return err
			}
			res, perr := a.parse(gctx, f)

			mu.Lock()
			defer mu.Unlock()
			done++
			if perr != nil {
				if err := gctx.Err(); err != nil {
					return err
				}
				errs = append(errs, perr)
				if err := emit.Error(perr, true); err != nil {
					return err
				}
			} else {
				if err := graph.Index(gctx, store, res); err != nil {
					return fmt.Errorf("analysis: %w", err)
				}
				results[i] = res
				if err := emit.Item(fileItem(res)); err != nil {
					return err
				}
			}
			return emit.Progress(percent(done, len(files)), f.rel)
		})
	}
	if err := g.Wait(); err != nil {
		return orchestrator.Fatal(err)
	}

	out := &AnalysisOutput{Root: root}
	for i, res := range results {
		if res == nil {
			out.Failed = append(out.Failed, files[i].rel)
			continue
		}
		out.Files = append(out.Files, AnalyzedFile{
			Path:     res.File.Path,
			Language: res.File.Language,
			LOC:      res.File.LOC,
			Units:    res.Units,
			Imports:  res.Imports,
		})
	}
	if len(out.Files) == 0 {
		return orchestrator.Fatal(fmt.Errorf("analysis: none of %d files could be parsed: %w", len(files), errors.Join(errs...)))
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return orchestrator.Fatal(fmt.Errorf("analysis: index stats: %w", err))
	}
	out.Stats = *stats

	res := orchestrator.StageResult{Stage: orchestrator.StageFileAnalysis, Output: out}
	if len(errs) > 0 {
		return orchestrator.PartialFailure(res, errs...)
	}
	return orchestrator.Success(res)
}

func (a *Analysis) parse(ctx context.Context, f sourceFile) (*graph.ParseResult, error) {
	src, err := os.ReadFile(f.abs)
	if err != nil {
		return nil, fmt.Errorf("analysis: read %s: %w", f.rel, err)
	}
	res, err := a.parser.Parse(ctx, f.rel, src, f.lang)
	if err != nil {
		return nil, fmt.Errorf("analysis: parse %s: %w", f.rel, err)
	}
	return res, nil
}

// languages resolves the job's language filter against what the parser
// supports.
func (a *Analysis) languages(names []string) (map[graph.Language]bool, error) {
	supported := a.parser.SupportedLanguages()
	out := make(map[graph.Language]bool, len(supported))
	if len(names) == 0 {
		for _, l := range supported {
			out[l] = true
		}
		return out, nil
	}
	for _, name := range names {
		l, ok := graph.ParseLanguage(name)
		if !ok {
			return nil, fmt.Errorf("analysis: unknown language %q", name)
		}
		if !slices.Contains(supported, l) {
			return nil, fmt.Errorf("analysis: parser does not support %s", l)
		}
		out[l] = true
	}
	return out, nil
}

func fileItem(res *graph.ParseResult) orchestrator.Item {
	data, _ := json.Marshal(fileSummary{
		Language: res.File.Language,
		LOC:      res.File.LOC,
		Units:    len(res.Units),
		Testable: len(res.Testable()),
	})
	return orchestrator.Item{Kind: orchestrator.ItemFileAnalyzed, Ref: res.File.Path, Data: data}
}

// discover lists the source files under root in lexical order. Hidden
// directories, well-known dependency directories, excluded names and the
// output directory are skipped.
func discover(ctx context.Context, root string, langs map[graph.Language]bool, exclude []string, outDir string) ([]sourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("analysis: source %s is not a directory", root)
	}
	outAbs, _ := filepath.Abs(outDir)

	var files []sourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || slices.Contains(skipDirs, name) || slices.Contains(exclude, name) {
				return filepath.SkipDir
			}
			if abs, _ := filepath.Abs(path); abs == outAbs {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		lang, ok := graph.LanguageForPath(name)
		if !ok || !langs[lang] {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() > maxSourceSize {
			log.Printf("analysis: skip %s: %d bytes", path, info.Size())
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{rel: filepath.ToSlash(rel), abs: path, lang: lang})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: walk %s: %w", root, err)
	}
	return files, nil
}
