package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/gatekeeper"
	"mercator-hq/gatekeeper/pkg/rules/engine"
	"mercator-hq/gatekeeper/pkg/rules/executor"
)

var evalFlags struct {
	tenant      string
	entityType  string
	screen      string
	contextFile string
	instance    string
	execute     bool
	explain     bool
	actor       string
	format      string
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Match rules against an evaluation context",
	Long: `Match a tenant's rules against a context read from a JSON or YAML file
and show the resulting actions.

By default nothing is applied: every matched action is reported as a
suggestion and the workflow and audit stores are kept in memory. With
--execute automatic rules are applied against the configured stores.

Examples:
  # Dry run
  gatekeeper eval --tenant acme --context vendor.json

  # Apply automatic rules to a running workflow
  gatekeeper eval --tenant acme --context vendor.yaml --instance 6f1c... --execute

  # Show every candidate rule and why it did or did not match
  gatekeeper eval --tenant acme --context vendor.json --explain`,
	RunE: evaluateRules,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalFlags.tenant, "tenant", "t", "", "tenant ID")
	evalCmd.Flags().StringVar(&evalFlags.entityType, "entity-type", "", "entity type used to scope rules")
	evalCmd.Flags().StringVar(&evalFlags.screen, "screen", "", "screen used to scope rules")
	evalCmd.Flags().StringVarP(&evalFlags.contextFile, "context", "f", "", "JSON or YAML file with the evaluation context")
	evalCmd.Flags().StringVar(&evalFlags.instance, "instance", "", "workflow instance ID made available as workflow.instance_id")
	evalCmd.Flags().BoolVar(&evalFlags.execute, "execute", false, "apply automatic rules")
	evalCmd.Flags().BoolVar(&evalFlags.explain, "explain", false, "list every candidate rule with its outcome")
	evalCmd.Flags().StringVar(&evalFlags.actor, "actor", executor.DefaultActor, "actor recorded for applied actions")
	evalCmd.Flags().StringVar(&evalFlags.format, "format", "text", "output format: text, json, csv")
}

type matchView struct {
	RuleID   string `json:"rule_id"`
	Name     string `json:"name,omitempty"`
	Priority int    `json:"priority"`
	Matched  bool   `json:"matched"`
	Action   string `json:"action"`
	Path     string `json:"path,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type explainReport struct {
	Matches []matchView `json:"matches"`
}

func (r *explainReport) Header() []string {
	return []string{"RULE", "PRIORITY", "MATCHED", "ACTION", "REASON"}
}

func (r *explainReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		rows = append(rows, []string{m.RuleID, strconv.Itoa(m.Priority), strconv.FormatBool(m.Matched), m.Action, m.Reason})
	}
	return rows
}

type evalReport struct {
	TenantID  string            `json:"tenant_id"`
	Matches   []matchView       `json:"matches"`
	Executed  []executor.Result `json:"executed"`
	Suggested []executor.Result `json:"suggested"`
	Errors    []string          `json:"errors"`

	failures []*executor.ActionExecutionError
}

func (r *evalReport) Header() []string {
	return []string{"RULE", "ACTION", "STATUS", "RESOLVED"}
}

func (r *evalReport) Rows() [][]string {
	var rows [][]string
	for _, group := range [][]executor.Result{r.Executed, r.Suggested} {
		for _, res := range group {
			rows = append(rows, []string{res.RuleID, res.Verb + ":" + res.Target, string(res.Status), res.Resolved})
		}
	}
	for _, e := range r.failures {
		rows = append(rows, []string{e.RuleID, e.Verb + ":" + e.Target, string(executor.StatusFailed), e.Cause.Error()})
	}
	return rows
}

func newMatchView(m engine.MatchResult) matchView {
	return matchView{
		RuleID:   m.Rule.ID,
		Name:     m.Rule.Name,
		Priority: m.Rule.Priority,
		Matched:  m.Matched,
		Action:   m.Rule.Action.String(),
		Path:     m.Outcome.Path,
		Reason:   m.Outcome.Reason,
	}
}

func evaluateRules(cmd *cobra.Command, args []string) error {
	if evalFlags.tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	evalCtx, err := readEvalContext(evalFlags.contextFile, evalFlags.instance)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, func(cfg *config.Config) {
		if !evalFlags.execute {
			cfg.Storage.Backend = "memory"
			cfg.Audit.Backend = "memory"
		}
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	req := gatekeeper.EvaluateRequest{
		TenantID:    evalFlags.tenant,
		EntityType:  evalFlags.entityType,
		Screen:      evalFlags.screen,
		Context:     evalCtx,
		AutoExecute: evalFlags.execute,
		Actor:       evalFlags.actor,
	}

	if evalFlags.explain {
		matches, err := eng.Explain(ctx, req)
		if err != nil {
			return cli.NewCommandError("eval", err)
		}
		report := &explainReport{Matches: make([]matchView, 0, len(matches))}
		for _, m := range matches {
			report.Matches = append(report.Matches, newMatchView(m))
		}
		return render(cmd, evalFlags.format, report)
	}

	evaluation, err := eng.Evaluate(ctx, req)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	report := &evalReport{
		TenantID:  evalFlags.tenant,
		Matches:   make([]matchView, 0, len(evaluation.Matches)),
		Executed:  evaluation.Report.Executed,
		Suggested: evaluation.Report.Suggested,
		Errors:    []string{},
		failures:  evaluation.Report.Errors,
	}
	for _, m := range evaluation.Matches {
		report.Matches = append(report.Matches, newMatchView(m))
	}
	for _, e := range evaluation.Report.Errors {
		report.Errors = append(report.Errors, e.Error())
	}
	return render(cmd, evalFlags.format, report)
}

// readEvalContext decodes a JSON or YAML object. instanceID, when set, is
// stored as workflow.instance_id.
func readEvalContext(path, instanceID string) (evalctx.Context, error) {
	attrs := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return evalctx.Context{}, fmt.Errorf("failed to read context file: %w", err)
		}
		if err := yaml.Unmarshal(data, &attrs); err != nil {
			return evalctx.Context{}, fmt.Errorf("failed to parse context file %q: %w", path, err)
		}
		if attrs == nil {
			attrs = map[string]any{}
		}
	}

	if instanceID != "" {
		wf, _ := attrs[evalctx.EntityWorkflow].(map[string]any)
		if wf == nil {
			wf = map[string]any{}
		}
		wf["instance_id"] = instanceID
		attrs[evalctx.EntityWorkflow] = wf
	}
	return evalctx.FromMap(attrs)
}
