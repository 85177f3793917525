package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Compile-time check.
var _ orchestrator.StageExecutor = (*Synthesis)(nil)

// GeneratedTest records one test file written by the synthesis stage.
type GeneratedTest struct {
	Path    string   `json:"path"`   // relative to the output directory
	Target  string   `json:"target"` // source file the tests exercise
	Units   []string `json:"units"`
	Tests   int      `json:"tests"`
	Backend string   `json:"backend"`
}

// SynthesisOutput is the test-synthesis stage's output.
type SynthesisOutput struct {
	Dir   string          `json:"dir"`
	Tests []GeneratedTest `json:"tests"` // in source file order
}

// Covered returns the covered units keyed by target file.
func (o *SynthesisOutput) Covered() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(o.Tests))
	for _, t := range o.Tests {
		set := out[t.Target]
		if set == nil {
			set = make(map[string]bool, len(t.Units))
			out[t.Target] = set
		}
		for _, u := range t.Units {
			set[u] = true
		}
	}
	return out
}

// testSummary is the data attached to test-generated items.
type testSummary struct {
	Target  string   `json:"target"`
	Units   []string `json:"units"`
	Tests   int      `json:"tests"`
	Backend string   `json:"backend"`
}

// Synthesis generates a test file for every analyzed file with testable
// units.
type Synthesis struct {
	synth   Synthesizer
	workers int
}

// NewSynthesis creates the test-synthesis stage.
func NewSynthesis(synth Synthesizer, workers int) *Synthesis {
	return &Synthesis{synth: synth, workers: max(workers, 1)}
}

func (s *Synthesis) Run(ctx context.Context, sc orchestrator.StageContext, emit orchestrator.Emitter) orchestrator.Outcome {
	analysis, ok := input[*AnalysisOutput](sc, orchestrator.StageFileAnalysis)
	if !ok {
		return orchestrator.Fatal(errors.New("synthesis: file-analysis output missing"))
	}
	outDir := OutputDir(sc.Config)

	var targets []AnalyzedFile
	for _, f := range analysis.Files {
		if len(f.Testable()) > 0 {
			targets = append(targets, f)
		}
	}
	result := orchestrator.StageResult{
		Stage:  orchestrator.StageTestSynthesis,
		Output: &SynthesisOutput{Dir: outDir},
	}
	if len(targets) == 0 {
		if err := emit.Progress(100, "no testable units"); err != nil {
			return orchestrator.Fatal(err)
		}
		return orchestrator.Success(result)
	}

	var (
		mu        sync.Mutex
		done      int
		generated = make([]*GeneratedTest, len(targets))
		written   = make([]string, len(targets))
		errs      []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range targets {
		g.Go(func() error {
			if err := emit.Checkpoint(); err != nil {
				return err
			}
			st, path, serr := s.generate(gctx, analysis.Root, outDir, f)

			mu.Lock()
			defer mu.Unlock()
			done++
			if serr != nil {
				if err := gctx.Err(); err != nil {
					return err
				}
				errs = append(errs, serr)
				if err := emit.Error(serr, true); err != nil {
					return err
				}
			} else {
				test := &GeneratedTest{Path: st.Path, Target: f.Path, Units: st.Units, Tests: st.Tests, Backend: st.Backend}
				generated[i], written[i] = test, path
				data, _ := json.Marshal(testSummary{Target: test.Target, Units: test.Units, Tests: test.Tests, Backend: test.Backend})
				item := orchestrator.Item{Kind: orchestrator.ItemTestGenerated, Ref: test.Path, Usage: st.Usage, Data: data}
				if err := emit.Item(item); err != nil {
					return err
				}
			}
			return emit.Progress(percent(done, len(targets)), f.Path)
		})
	}
	if err := g.Wait(); err != nil {
		return orchestrator.Fatal(err)
	}

	out := result.Output.(*SynthesisOutput)
	for i, t := range generated {
		if t == nil {
			continue
		}
		out.Tests = append(out.Tests, *t)
		result.Artifacts = append(result.Artifacts, written[i])
	}
	if len(out.Tests) == 0 {
		return orchestrator.Fatal(fmt.Errorf("synthesis: no test file could be generated: %w", errors.Join(errs...)))
	}
	if len(errs) > 0 {
		return orchestrator.PartialFailure(result, errs...)
	}
	return orchestrator.Success(result)
}

// generate synthesizes and writes the test file for f, returning the
// written path.
func (s *Synthesis) generate(ctx context.Context, root, outDir string, f AnalyzedFile) (*SynthesizedTest, string, error) {
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
	if err != nil {
		return nil, "", fmt.Errorf("synthesis: read %s: %w", f.Path, err)
	}
	st, err := s.synth.Synthesize(ctx, SynthesisRequest{File: f, Source: src})
	if err != nil {
		return nil, "", fmt.Errorf("synthesis: %s: %w", f.Path, err)
	}
	path := filepath.Join(outDir, filepath.FromSlash(st.Path))
	if err := writeFile(path, st.Content); err != nil {
		return nil, "", fmt.Errorf("synthesis: %w", err)
	}
	return st, path, nil
}

// writeFile writes data to path, creating parent directories as needed.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
