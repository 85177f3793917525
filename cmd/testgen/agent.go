package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/testgen/internal/agent"
)

func runAgent(args []string, stdout io.Writer) error {
	var (
		host     string
		port     int
		replicas int
	)
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.StringVar(&host, "host", "127.0.0.1", "interface to bind")
	fs.IntVar(&port, "port", 9100, "first port; replicas take the following ports, 0 picks free ports")
	fs.IntVar(&replicas, "replicas", 1, "number of synthesis agents to start")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}

	ctx := context.Background()
	reg := agent.NewRegistry(version)
	agents, err := reg.SpawnReplicas(ctx, agent.RoleSynthesis, host, port, replicas)
	if err != nil {
		return err
	}
	for _, ag := range agents {
		fmt.Fprintf(stdout, "http://%s\n", ag.Addr())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("testgen: received signal %v, stopping %d agent(s)", received, len(agents))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return reg.StopAll(shutdownCtx)
}
