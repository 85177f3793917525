// Package skilldata embeds the test skeleton templates used by template
// synthesis and the default project file written by `testgen init`.
package skilldata

import "embed"

// TemplatesFS holds one text/template file per language under "templates/",
// named after the language (go.tmpl, python.tmpl, ...). Each file defines a
// "header" and a "test" template.
//
//go:embed templates/*.tmpl
var TemplatesFS embed.FS

// DefaultConfig is the testgen.yml written by `testgen init`.
//
//go:embed testgen.yml
var DefaultConfig []byte
