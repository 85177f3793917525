package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dusk-indust/testgen/internal/metrics"
	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/streamapi"
)

const shutdownTimeout = 15 * time.Second

func runServe(args []string) error {
	var (
		projectRoot string
		addr        string
		noMetrics   bool
	)
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "directory holding testgen.yml")
	fs.StringVar(&addr, "addr", "", "listen address (default from config)")
	fs.BoolVar(&noMetrics, "no-metrics", false, "do not expose Prometheus metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := loadProject(projectRoot)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = p.cfg.ServeAddr()
	}

	ctx := context.Background()
	reg, err := p.registry(ctx, "")
	if err != nil {
		return err
	}

	coordOpts := p.cfg.CoordinatorOptions()
	promReg := prometheus.NewRegistry()
	if !noMetrics {
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		coordOpts = append(coordOpts, orchestrator.WithMetrics(metrics.NewPrometheusSink(promReg)))
	}
	coord := orchestrator.NewCoordinator(reg, coordOpts...)

	var serverOpts []streamapi.ServerOption
	mirror, closeRelay, err := p.openRelay(ctx)
	if err != nil {
		return err
	}
	defer closeRelay()
	if mirror != nil {
		serverOpts = append(serverOpts, streamapi.WithJobOptions(orchestrator.WithSubscriber(mirror.Subscriber())))
	}

	api := streamapi.NewServer(coord, serverOpts...)
	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	if !noMetrics {
		mux.Handle(p.cfg.MetricsPath(), promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		log.Printf("testgen: metrics enabled (path=%s)", p.cfg.MetricsPath())
	}

	if err := api.Start(ctx, addr, mux); err != nil {
		return err
	}
	log.Printf("testgen: serving jobs on http://%s", api.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("testgen: received signal %v, shutting down", received)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Printf("testgen: http server shutdown error: %v", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Printf("testgen: coordinator shutdown error: %v", err)
	}
	log.Println("testgen: stopped")
	return nil
}
