package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusk-indust/testgen/internal/mcptools"
	"github.com/dusk-indust/testgen/internal/orchestrator"
)

func runMCP(args []string) error {
	var (
		projectRoot string
		httpAddr    string
	)
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "directory holding testgen.yml")
	fs.StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := loadProject(projectRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := p.registry(ctx, "")
	if err != nil {
		return err
	}
	coord := orchestrator.NewCoordinator(reg, p.cfg.CoordinatorOptions()...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := coord.Shutdown(shutdownCtx); err != nil {
			log.Printf("testgen: shutdown: %v", err)
		}
	}()

	server := mcptools.NewMCPServer(mcptools.NewJobService(coord, p.jobConfig()))
	if httpAddr != "" {
		log.Printf("testgen: MCP over HTTP on %s", httpAddr)
		return mcptools.RunHTTP(ctx, server, httpAddr)
	}
	return mcptools.RunStdio(ctx, server)
}
