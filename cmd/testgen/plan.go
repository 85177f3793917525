package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/dusk-indust/testgen/internal/export"
	"github.com/dusk-indust/testgen/internal/orchestrator"
	"github.com/dusk-indust/testgen/internal/stages"
)

// runPlan prints the Mermaid diagram of the configured stage plan. With
// --report, nodes are classed by the outcomes recorded in a report.json.
func runPlan(args []string, stdout io.Writer) error {
	var (
		projectRoot string
		stageList   string
		reportPath  string
	)
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.StringVar(&projectRoot, "project-root", ".", "directory holding testgen.yml")
	fs.StringVar(&stageList, "stages", "", "comma-separated stages (default from config)")
	fs.StringVar(&reportPath, "report", "", "report.json whose stage outcomes color the diagram")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := loadProject(projectRoot)
	if err != nil {
		return err
	}
	requested := p.jobConfig().Stages

	var res *orchestrator.Result
	if reportPath != "" {
		report, err := export.ReadReport(reportPath)
		if err != nil {
			return err
		}
		res = report.Result
		requested = report.Stages
	}
	if s := splitList(stageList); len(s) > 0 {
		requested = nil
		for _, id := range s {
			requested = append(requested, orchestrator.StageID(id))
		}
	}

	reg := orchestrator.NewRegistry()
	if err := stages.Register(reg, stages.Deps{}); err != nil {
		return err
	}
	plan, err := reg.Plan(requested)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, export.GenerateMermaid(plan, res))
	return nil
}
