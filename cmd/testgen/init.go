package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dusk-indust/testgen/internal/config"
	"github.com/dusk-indust/testgen/internal/skilldata"
)

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// testgenMCPEntry is the MCP server configuration for the testgen binary.
var testgenMCPEntry = json.RawMessage(`{
  "type": "stdio",
  "command": "testgen",
  "args": ["mcp"]
}`)

// runInit writes the default testgen.yml and registers the MCP server in
// the target project directory.
func runInit(args []string, stdout io.Writer) error {
	var (
		projectRoot string
		force       bool
		noMCP       bool
	)
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "project directory")
	fs.BoolVar(&force, "force", false, "overwrite existing files")
	fs.BoolVar(&noMCP, "no-mcp", false, "do not touch .mcp.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	if err := writeDefaultConfig(abs, force, stdout); err != nil {
		return err
	}
	if !noMCP {
		if err := mergeMCPConfig(filepath.Join(abs, ".mcp.json"), force, stdout); err != nil {
			return err
		}
	}

	fmt.Fprintln(stdout, "\nSetup complete. Run 'testgen run' to generate tests.")
	return nil
}

func writeDefaultConfig(root string, force bool, stdout io.Writer) error {
	dest := filepath.Join(root, config.FileNames[0])
	if !force {
		for _, name := range config.FileNames {
			if _, err := os.Stat(filepath.Join(root, name)); err == nil {
				fmt.Fprintf(stdout, "  skipped %s (exists, use --force to overwrite)\n", dotRelative(root, filepath.Join(root, name)))
				return nil
			}
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, skilldata.DefaultConfig, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	fmt.Fprintf(stdout, "  created %s\n", dotRelative(root, dest))
	return nil
}

// mergeMCPConfig creates or merges the testgen entry into .mcp.json.
func mergeMCPConfig(mcpPath string, force bool, stdout io.Writer) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["testgen"]; exists && !force {
		fmt.Fprintf(stdout, "  skipped .mcp.json testgen entry (exists, use --force to overwrite)\n")
		return nil
	}

	cfg.MCPServers["testgen"] = testgenMCPEntry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}

	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(stdout, "  %s .mcp.json with testgen MCP server\n", action)
	return nil
}

// dotRelative returns a display path relative to the project root, prefixed
// with "./".
func dotRelative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return "./" + rel
}
