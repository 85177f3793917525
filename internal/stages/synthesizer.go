package stages

import (
	"context"
	"fmt"
	"log"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Compile-time interface checks.
var (
	_ Synthesizer = (*TemplateSynthesizer)(nil)
	_ Synthesizer = (*FallbackSynthesizer)(nil)
	_ Synthesizer = (*AgentSynthesizer)(nil)
)

// Synthesizer produces a test file for one analyzed source file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error)
}

// SynthesisRequest describes one source file that needs tests.
type SynthesisRequest struct {
	File   AnalyzedFile
	Source []byte
}

// SynthesizedTest is a generated test file.
type SynthesizedTest struct {
	Path    string // relative to the output directory, slash-separated
	Content []byte
	Units   []string // qualified names of the units the file covers
	Tests   int
	Usage   *orchestrator.Usage
	Backend string
}

// SynthesisTask is the payload sent to synthesis backends, local or remote.
type SynthesisTask struct {
	Path     string           `json:"path"`
	Language graph.Language   `json:"language"`
	Units    []graph.UnitNode `json:"units"`
	Source   string           `json:"source,omitempty"`
}

// SynthesisReply is what a backend returns for a SynthesisTask.
type SynthesisReply struct {
	Header string              `json:"header"`
	Tests  []Snippet           `json:"tests"`
	Usage  *orchestrator.Usage `json:"usage,omitempty"`
}

func taskFor(req SynthesisRequest) SynthesisTask {
	return SynthesisTask{
		Path:     req.File.Path,
		Language: req.File.Language,
		Units:    req.File.Testable(),
		Source:   string(req.Source),
	}
}

// assemble merges a reply into the test file for req.
func assemble(req SynthesisRequest, reply SynthesisReply, backend string) (*SynthesizedTest, error) {
	content, covered, err := NewMerger(req.File.Testable()).Merge(reply.Header, reply.Tests)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.File.Path, err)
	}
	return &SynthesizedTest{
		Path:    TestPath(req.File.Language, req.File.Path),
		Content: []byte(content),
		Units:   covered,
		Tests:   len(reply.Tests),
		Usage:   reply.Usage,
		Backend: backend,
	}, nil
}

// TemplateSynthesizer renders skeleton tests from the embedded templates. It
// needs no network and always succeeds for supported languages.
type TemplateSynthesizer struct{}

// NewTemplateSynthesizer loads the embedded templates.
func NewTemplateSynthesizer() (*TemplateSynthesizer, error) {
	if _, err := loadTemplates(); err != nil {
		return nil, err
	}
	return &TemplateSynthesizer{}, nil
}

func (t *TemplateSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply, err := RenderSnippets(taskFor(req))
	if err != nil {
		return nil, fmt.Errorf("template synthesis: %w", err)
	}
	return assemble(req, reply, "template")
}

// FallbackSynthesizer tries primary and falls back to secondary when it
// fails for any reason other than cancellation.
type FallbackSynthesizer struct {
	primary   Synthesizer
	secondary Synthesizer
}

// NewFallbackSynthesizer creates a FallbackSynthesizer.
func NewFallbackSynthesizer(primary, secondary Synthesizer) *FallbackSynthesizer {
	return &FallbackSynthesizer{primary: primary, secondary: secondary}
}

func (f *FallbackSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesizedTest, error) {
	out, err := f.primary.Synthesize(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	log.Printf("synthesis: %s: falling back: %v", req.File.Path, err)
	return f.secondary.Synthesize(ctx, req)
}
