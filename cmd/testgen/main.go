package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// version is set by goreleaser at build time.
var version = "dev"

const usage = `usage: testgen <command> [flags]

commands:
  run      run a job against a project and print its progress
  serve    serve the streaming job API and Prometheus metrics
  agent    host synthesis agents for remote coordinators
  mcp      serve job tools over MCP (stdio or streamable HTTP)
  status   show jobs on a running server, optionally following one
  plan     print the stage plan as a Mermaid diagram
  units    search a persistent analysis index
  init     write testgen.yml and register the MCP server
  version  print version and exit
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return flag.ErrHelp
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return runJob(rest, stdout)
	case "serve":
		return runServe(rest)
	case "agent":
		return runAgent(rest, stdout)
	case "mcp":
		return runMCP(rest)
	case "status":
		return runStatus(rest, stdout)
	case "plan":
		return runPlan(rest, stdout)
	case "units":
		return runUnits(rest, stdout)
	case "init":
		return runInit(rest, stdout)
	case "version", "--version", "-version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
