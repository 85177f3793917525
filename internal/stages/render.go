package stages

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/dusk-indust/testgen/internal/graph"
	"github.com/dusk-indust/testgen/internal/skilldata"
)

var loadTemplates = sync.OnceValues(func() (map[graph.Language]*template.Template, error) {
	funcs := template.FuncMap{"join": strings.Join}
	out := make(map[graph.Language]*template.Template, len(graph.Languages))
	for _, lang := range graph.Languages {
		name := "templates/" + string(lang) + ".tmpl"
		t, err := template.New(string(lang)).Funcs(funcs).ParseFS(skilldata.TemplatesFS, name)
		if err != nil {
			return nil, fmt.Errorf("templates: %w", err)
		}
		out[lang] = t
	}
	return out, nil
})

type headerView struct {
	Source  string
	Package string
	Module  string
	Exports []string
}

type testView struct {
	Unit     string
	Name     string
	Receiver string
	TestName string
}

// RenderSnippets renders skeleton tests for the task's testable units from
// the embedded templates.
func RenderSnippets(task SynthesisTask) (SynthesisReply, error) {
	templates, err := loadTemplates()
	if err != nil {
		return SynthesisReply{}, err
	}
	tmpl, ok := templates[task.Language]
	if !ok {
		return SynthesisReply{}, fmt.Errorf("render: no template for %s", task.Language)
	}

	var units []graph.UnitNode
	for _, u := range task.Units {
		if u.Kind.Testable() {
			units = append(units, u)
		}
	}

	header, err := execute(tmpl, "header", headerView{
		Source:  task.Path,
		Package: goPackage(task.Source),
		Module:  moduleName(task.Language, task.Path),
		Exports: exportedNames(units),
	})
	if err != nil {
		return SynthesisReply{}, err
	}

	reply := SynthesisReply{Header: header}
	for _, u := range units {
		v := testView{
			Unit:     u.QualifiedName(),
			Name:     u.Name,
			Receiver: u.Receiver,
			TestName: TestName(task.Language, u),
		}
		code, err := execute(tmpl, "test", v)
		if err != nil {
			return SynthesisReply{}, err
		}
		reply.Tests = append(reply.Tests, Snippet{Unit: v.Unit, Name: v.TestName, Code: code})
	}
	return reply, nil
}

func execute(t *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// TestName derives the conventional test name for a unit.
func TestName(lang graph.Language, u graph.UnitNode) string {
	switch lang {
	case graph.LangGo:
		if u.Receiver != "" {
			return "Test" + upperFirst(u.Receiver) + "_" + u.Name
		}
		return "Test" + upperFirst(u.Name)
	case graph.LangPython, graph.LangRust:
		name := snake(strings.TrimLeft(u.Name, "_"))
		if u.Receiver != "" {
			name = snake(u.Receiver) + "_" + name
		}
		return "test_" + name
	default:
		return u.QualifiedName()
	}
}

// TestPath is where the generated test file for a source file goes,
// relative to the output directory.
func TestPath(lang graph.Language, src string) string {
	dir, file := path.Split(src)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	switch lang {
	case graph.LangGo:
		return dir + stem + "_gen_test.go"
	case graph.LangPython:
		return dir + "test_" + stem + ".py"
	case graph.LangTypeScript:
		return dir + stem + ".test" + ext
	case graph.LangRust:
		return dir + stem + "_tests.rs"
	}
	return dir + stem + ".test" + ext
}

// moduleName is the import path a test uses to reach the source file.
func moduleName(lang graph.Language, src string) string {
	stem := strings.TrimSuffix(src, path.Ext(src))
	switch lang {
	case graph.LangPython:
		stem = strings.TrimSuffix(stem, "/__init__")
		return strings.ReplaceAll(stem, "/", ".")
	case graph.LangTypeScript:
		return path.Base(stem)
	}
	return stem
}

// exportedNames lists the importable names the tests refer to: exported
// functions and the classes of exported methods.
func exportedNames(units []graph.UnitNode) []string {
	var out []string
	for _, u := range units {
		if !u.Exported {
			continue
		}
		name := u.Name
		if u.Receiver != "" {
			name = u.Receiver
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// goPackage reads the package clause of a Go file, "main" when none is
// found.
func goPackage(src string) string {
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "package "); ok {
			if name, _, _ := strings.Cut(strings.TrimSpace(rest), " "); name != "" {
				return name
			}
		}
	}
	return "main"
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

// snake converts CamelCase to snake_case; snake_case input is unchanged.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
