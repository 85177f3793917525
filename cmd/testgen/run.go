package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dusk-indust/testgen/internal/export"
	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/stages"
	"github.com/dusk-indust/testgen/internal/status"
)

// runFlags are the flags of `testgen run`. Empty values keep the config's
// setting.
type runFlags struct {
	ProjectRoot string
	Source      string
	Stages      string
	Target      float64
	OutputDir   string
	Agents      string
	IndexDir    string
	NoReport    bool
	Verbose     bool
}

func runJob(args []string, stdout io.Writer) error {
	var flags runFlags

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&flags.ProjectRoot, "project-root", ".", "directory holding testgen.yml")
	fs.StringVar(&flags.Source, "source", "", "code under test (default from config)")
	fs.StringVar(&flags.Stages, "stages", "", "comma-separated stages to run")
	fs.Float64Var(&flags.Target, "target", -1, "coverage target percentage")
	fs.StringVar(&flags.OutputDir, "output-dir", "", "directory for generated tests and reports")
	fs.StringVar(&flags.Agents, "agents", "", "comma-separated synthesis agent URLs")
	fs.StringVar(&flags.IndexDir, "index-dir", "", "persist the analysis index in this directory")
	fs.BoolVar(&flags.NoReport, "no-report", false, "do not write report.json")
	fs.BoolVar(&flags.Verbose, "verbose", false, "print every stage item")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}
	if flags.Source != "" {
		p.cfg.Source = flags.Source
	}
	if s := splitList(flags.Stages); len(s) > 0 {
		p.cfg.Stages = s
	}
	if flags.Target >= 0 {
		p.cfg.CoverageTarget = flags.Target
	}
	if flags.OutputDir != "" {
		p.cfg.OutputDir = flags.OutputDir
	}
	if a := splitList(flags.Agents); len(a) > 0 {
		p.cfg.Agents = a
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	reg, err := p.registry(ctx, flags.IndexDir)
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

	mirror, closeRelay, err := p.openRelay(ctx)
	if err != nil {
		return err
	}
	defer closeRelay()

	// The terminal line must be rendered before the summary.
	renderer := status.NewRenderer(stdout, status.WithVerbose(flags.Verbose))
	rendered := make(chan struct{})
	opts := []orchestrator.JobOption{
		orchestrator.WithSubscriber(func(ev orchestrator.Event) {
			renderer.Observe(ev)
			if ev.IsTerminal() {
				close(rendered)
			}
		}),
	}
	if mirror != nil {
		opts = append(opts, orchestrator.WithSubscriber(mirror.Subscriber()))
	}

	cfg := p.jobConfig()
	h, err := coord.CreateJob(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer h.Dispose()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case received := <-sig:
			log.Printf("testgen: received signal %v, cancelling job %s", received, h.JobID())
			h.Cancel()
		case <-h.Done():
		}
	}()

	res, runErr := h.AwaitCompletion(ctx)
	select {
	case <-rendered:
	case <-time.After(2 * time.Second):
	}

	info := h.Info()
	if res == nil {
		res = info.Result
	}
	if !flags.NoReport {
		if err := writeReports(cfg, reg, info); err != nil {
			log.Printf("testgen: %v", err)
		}
	}

	fmt.Fprintln(stdout)
	status.PrintSummary(stdout, res)

	var cancelled *orchestrator.CancelledError
	switch {
	case errors.As(runErr, &cancelled):
		return errors.New("job cancelled")
	case runErr != nil:
		return runErr
	}
	return nil
}

// writeReports writes report.json and the job's configured outputs into
// its output directory.
func writeReports(cfg orchestrator.JobConfig, reg *orchestrator.Registry, info orchestrator.JobInfo) error {
	dir := stages.OutputDir(cfg)
	now := time.Now()
	if err := export.WriteReport(filepath.Join(dir, export.ReportFile), info, now); err != nil {
		return err
	}
	if len(cfg.Outputs) == 0 {
		return nil
	}
	plan, err := reg.Plan(cfg.Stages)
	if err != nil {
		return err
	}
	_, err = export.WriteOutputs(dir, info, plan, now)
	return err
}
