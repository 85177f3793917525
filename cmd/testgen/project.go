package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dusk-indust/testgen/internal/a2a"
	"github.com/dusk-indust/testgen/internal/config"
	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/relay"
	"github.com/dusk-indust/testgen/internal/stages"
)

// project is a loaded and validated testgen.yml plus the directory it was
// found in.
type project struct {
	root string
	cfg  *config.ProjectConfig
}

// loadProject reads the config in root. Without a config file the stage
// list defaults to every built-in stage.
func loadProject(root string) (*project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	if len(cfg.Stages) == 0 {
		for _, d := range stages.Descriptors() {
			cfg.Stages = append(cfg.Stages, string(d.ID))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &project{root: abs, cfg: cfg}, nil
}

func (p *project) jobConfig() orchestrator.JobConfig {
	return p.cfg.JobConfig(p.root)
}

// registry builds a stage registry. Synthesis goes to the configured agents
// that answer discovery, falling back to templates; indexDir, when set,
// persists the analysis index there.
func (p *project) registry(ctx context.Context, indexDir string) (*orchestrator.Registry, error) {
	var deps stages.Deps

	local, err := stages.NewTemplateSynthesizer()
	if err != nil {
		return nil, err
	}
	deps.Synthesizer = local
	if len(p.cfg.Agents) > 0 {
		client := a2a.NewHTTPClient(a2a.WithRetry(3, 250*time.Millisecond))
		found := stages.DiscoverAgents(ctx, client, p.cfg.Agents, p.cfg.ProbeTimeout())
		if len(found) > 0 {
			remote, err := stages.NewAgentSynthesizer(client, found)
			if err != nil {
				return nil, err
			}
			deps.Synthesizer = stages.NewFallbackSynthesizer(remote, local)
			log.Printf("testgen: synthesis via %d agent(s): %s", len(found), strings.Join(found, ", "))
		} else {
			log.Printf("testgen: no synthesis agent reachable; using templates")
		}
	}

	if indexDir != "" {
		if !filepath.IsAbs(indexDir) {
			indexDir = filepath.Join(p.root, indexDir)
		}
		newStore, err := indexStore(indexDir)
		if err != nil {
			return nil, err
		}
		deps.NewStore = newStore
	}

	reg := orchestrator.NewRegistry()
	if err := stages.Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

// openRelay connects to redis_addr when configured. The returned close
// func is never nil.
func (p *project) openRelay(ctx context.Context) (*relay.RedisRelay, func(), error) {
	if p.cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: p.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, func() {}, fmt.Errorf("redis %s: %w", p.cfg.RedisAddr, err)
	}
	log.Printf("testgen: mirroring job events to redis %s", p.cfg.RedisAddr)
	return relay.NewRedisRelay(client), func() { client.Close() }, nil
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
