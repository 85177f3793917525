package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/status"
	"github.com/dusk-indust/testgen/internal/streamapi"
)

func runStatus(args []string, stdout io.Writer) error {
	var (
		projectRoot string
		addr        string
		follow      bool
		from        uint64
		replay      bool
		verbose     bool
	)
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "directory holding testgen.yml")
	fs.StringVar(&addr, "addr", "", "server URL (default from config)")
	fs.BoolVar(&follow, "follow", false, "stream the job's events until it finishes")
	fs.Uint64Var(&from, "from", 1, "first event sequence number to follow or replay")
	fs.BoolVar(&replay, "replay", false, "print the job's events mirrored in redis")
	fs.BoolVar(&verbose, "verbose", false, "print every stage item")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := loadProject(projectRoot)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = "http://" + p.cfg.ServeAddr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fs.NArg() == 0 {
		return printJobs(ctx, streamapi.NewClient(addr), stdout)
	}
	id := fs.Arg(0)

	if replay {
		return replayJob(ctx, p, id, from, stdout)
	}

	client := streamapi.NewClient(addr)
	if follow {
		renderer := status.NewRenderer(stdout, status.WithVerbose(verbose))
		if err := client.Stream(ctx, id, from, renderer.Observe); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
	}

	info, err := client.Job(ctx, id)
	if err != nil {
		return err
	}
	printJob(stdout, *info)
	return nil
}

func printJobs(ctx context.Context, client *streamapi.Client, w io.Writer) error {
	infos, err := client.Jobs(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "No jobs.")
		fmt.Fprintln(w, "Run 'testgen run' or POST /jobs to start one.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "  %-36s %-10s %5.1f%%  %s\n",
			info.ID, info.State, info.Percent, info.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func printJob(w io.Writer, info orchestrator.JobInfo) {
	fmt.Fprintf(w, "Job:     %s\n", info.ID)
	fmt.Fprintf(w, "State:   %s (%.1f%%, %d events)\n", info.State, info.Percent, info.LastSeq)
	fmt.Fprintf(w, "Source:  %s\n", info.Config.Source)
	if info.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", info.Error)
	}
	if info.Result != nil {
		fmt.Fprintln(w)
		status.PrintSummary(w, info.Result)
	}
}

func replayJob(ctx context.Context, p *project, id string, from uint64, w io.Writer) error {
	mirror, closeRelay, err := p.openRelay(ctx)
	if err != nil {
		return err
	}
	defer closeRelay()
	if mirror == nil {
		return fmt.Errorf("replay needs redis_addr in testgen.yml")
	}
	events, err := mirror.Replay(ctx, id, from)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintf(w, "No events for job %s.\n", id)
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%6d %s\n", ev.Seq, status.FormatEvent(ev))
	}
	return nil
}
