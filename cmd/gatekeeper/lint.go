package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/rules/source"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/workflow"
)

var lintFlags struct {
	rules     string
	workflows string
	format    string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule files and workflow definitions",
	Long: `Parse and compile rule files and workflow definitions and report every
problem found. Invalid rules are reported individually; the remaining rules
of the same file are still checked.

Paths default to rules.path and workflow.definitions_path from the config.
The command exits with status 2 when problems are found.

Examples:
  # Lint the configured paths
  gatekeeper lint

  # Lint a rules directory only
  gatekeeper lint --rules rules/ --workflows ""

  # JSON output for CI
  gatekeeper lint --format json`,
	RunE: lintFiles,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVar(&lintFlags.rules, "rules", "", "rule file or directory (default rules.path)")
	lintCmd.Flags().StringVar(&lintFlags.workflows, "workflows", "", "workflow definition file or directory (default workflow.definitions_path)")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json, csv")
}

// Finding is one problem reported by lint.
type Finding struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

type lintReport struct {
	Rules       int       `json:"rules"`
	Definitions int       `json:"definitions"`
	Findings    []Finding `json:"findings"`
}

func (r *lintReport) Header() []string {
	return []string{"KIND", "ID", "LOCATION", "PROBLEM"}
}

func (r *lintReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		rows = append(rows, []string{f.Kind, f.ID, f.Location, f.Message})
	}
	return rows
}

func lintFiles(cmd *cobra.Command, args []string) error {
	rulesPath, workflowsPath := lintFlags.rules, lintFlags.workflows
	if rulesPath == "" && workflowsPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rulesPath, workflowsPath = cfg.Rules.Path, cfg.Workflow.DefinitionsPath
	}

	report := &lintReport{Findings: []Finding{}}
	if rulesPath != "" {
		if err := lintRules(cmd, rulesPath, report); err != nil {
			return err
		}
	}
	if workflowsPath != "" {
		lintDefinitions(workflowsPath, report)
	}

	if lintFlags.format == "text" && len(report.Findings) == 0 {
		fmt.Fprintf(output(cmd), "%d rules and %d workflow definitions OK\n", report.Rules, report.Definitions)
		return nil
	}
	if err := render(cmd, lintFlags.format, report); err != nil {
		return err
	}
	if n := len(report.Findings); n > 0 {
		return &cli.FindingsError{Command: "lint", Count: n}
	}
	return nil
}

func lintRules(cmd *cobra.Command, path string, report *lintReport) error {
	src := source.NewFileSource(path, source.NewRegistry(nil), logging.Discard(), nil)
	result, err := src.Load(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("lint", err)
	}

	report.Rules = result.Rules
	for _, rule := range result.Invalid {
		report.Findings = append(report.Findings, Finding{
			Kind:     "rule",
			ID:       rule.ID,
			Location: rule.Location.String(),
			Message:  rule.Err().Error(),
		})
	}

	files := make([]string, 0, len(result.Failed))
	for file := range result.Failed {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		report.Findings = append(report.Findings, Finding{
			Kind:     "file",
			ID:       file,
			Location: file,
			Message:  result.Failed[file].Error(),
		})
	}
	return nil
}

func lintDefinitions(path string, report *lintReport) {
	specs, err := workflow.LoadDefinitionFiles(path)
	if err != nil {
		report.Findings = append(report.Findings, Finding{Kind: "workflow_file", ID: path, Location: path, Message: err.Error()})
		return
	}
	for _, spec := range specs {
		if _, err := workflow.NewDefinition(spec); err != nil {
			version := spec.Version
			if version == 0 {
				version = 1
			}
			report.Findings = append(report.Findings, Finding{
				Kind:    "workflow",
				ID:      fmt.Sprintf("%s@%d", spec.ID, version),
				Message: err.Error(),
			})
			continue
		}
		report.Definitions++
	}
}
