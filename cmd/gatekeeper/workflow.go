package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Start, inspect and act on workflow instances",
	Long: `Manage workflow instances in the configured workflow store.

Examples:
  # Start the latest vendor-onboarding definition for an entity
  gatekeeper workflow start --tenant acme --definition vendor-onboarding --entity-type vendor --entity-id v-42 --submitter ann@acme.test

  # Let applicability pick the definition
  gatekeeper workflow start --tenant acme --risk high --entity-id v-42

  # Approve the current step
  gatekeeper workflow apply 6f1c... approve --actor sam@acme.test

  # Show an instance and its audit history
  gatekeeper workflow show 6f1c...`,
}

var workflowStartFlags struct {
	tenant      string
	definition  string
	version     int
	agentType   string
	risk        string
	entityType  string
	entityID    string
	submitter   string
	contextFile string
	format      string
}

var workflowStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a workflow instance",
	Args:  cobra.NoArgs,
	RunE:  startWorkflow,
}

var workflowApplyFlags struct {
	actor        string
	notes        string
	assignee     string
	step         int
	expectedStep int
	format       string
}

var workflowApplyCmd = &cobra.Command{
	Use:   "apply <instance-id> <action>",
	Short: "Apply an action to a workflow instance",
	Long: `Apply an action to a workflow instance.

Actions: approve, reject, forward, comment, request_revision, resubmit,
escalate, cancel, unblock.

approve and reject require --expected-step, the step being decided; the
action is refused when the instance has moved on. forward requires
--assignee. unblock accepts --step to re-enter a specific step.`,
	Args: cobra.ExactArgs(2),
	RunE: applyWorkflowAction,
}

var workflowShowFlags struct {
	format string
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <instance-id>",
	Short: "Show an instance with its steps and history",
	Args:  cobra.ExactArgs(1),
	RunE:  showWorkflow,
}

var workflowListFlags struct {
	tenant   string
	statuses []string
	limit    int
	format   string
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow instances",
	Args:  cobra.NoArgs,
	RunE:  listWorkflows,
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowStartCmd, workflowApplyCmd, workflowShowCmd, workflowListCmd)

	f := workflowStartCmd.Flags()
	f.StringVarP(&workflowStartFlags.tenant, "tenant", "t", "", "tenant ID")
	f.StringVarP(&workflowStartFlags.definition, "definition", "d", "", "definition ID (selected by applicability when empty)")
	f.IntVar(&workflowStartFlags.version, "version", 0, "definition version (0 for the latest)")
	f.StringVar(&workflowStartFlags.agentType, "agent-type", "", "agent type used to select a definition")
	f.StringVar(&workflowStartFlags.risk, "risk", "", "risk level used to select a definition")
	f.StringVar(&workflowStartFlags.entityType, "entity-type", "", "entity type")
	f.StringVar(&workflowStartFlags.entityID, "entity-id", "", "entity ID")
	f.StringVar(&workflowStartFlags.submitter, "submitter", "", "submitting user")
	f.StringVarP(&workflowStartFlags.contextFile, "context", "f", "", "JSON or YAML context used for path assignments")
	f.StringVar(&workflowStartFlags.format, "format", "text", "output format: text, json")

	f = workflowApplyCmd.Flags()
	f.StringVar(&workflowApplyFlags.actor, "actor", "", "acting user (required)")
	f.StringVar(&workflowApplyFlags.notes, "notes", "", "notes recorded with the action")
	f.StringVar(&workflowApplyFlags.assignee, "assignee", "", "forward target, e.g. user:ann@acme.test or role:legal")
	f.IntVar(&workflowApplyFlags.step, "step", 0, "step to re-enter on unblock")
	f.IntVar(&workflowApplyFlags.expectedStep, "expected-step", 0, "fail unless the instance is at this step")
	f.StringVar(&workflowApplyFlags.format, "format", "text", "output format: text, json")

	workflowShowCmd.Flags().StringVar(&workflowShowFlags.format, "format", "text", "output format: text, json")

	f = workflowListCmd.Flags()
	f.StringVarP(&workflowListFlags.tenant, "tenant", "t", "", "tenant ID")
	f.StringSliceVar(&workflowListFlags.statuses, "status", nil, "statuses to include (repeatable)")
	f.IntVar(&workflowListFlags.limit, "limit", 0, "maximum number of instances")
	f.StringVar(&workflowListFlags.format, "format", "text", "output format: text, json, csv")
}

// instanceView renders an instance with its step records.
type instanceView struct {
	*workflow.Instance
	History []*audit.Entry `json:"history,omitempty"`
}

func (v instanceView) Header() []string {
	return []string{"STEP", "STATUS", "ASSIGNEE", "COMPLETED BY", "NOTES"}
}

func (v instanceView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Steps))
	for _, r := range v.Steps {
		marker := strconv.Itoa(r.StepNumber)
		if r.StepNumber == v.CurrentStep {
			marker += "*"
		}
		rows = append(rows, []string{marker, string(r.Status), assigneeOf(r), r.CompletedBy, r.Notes})
	}
	return rows
}

func assigneeOf(r workflow.StepRecord) string {
	switch {
	case r.Assignee != "":
		return r.Assignee
	case r.Role != "":
		return "role:" + r.Role + " [" + strings.Join(r.Candidates, ",") + "]"
	default:
		return "-"
	}
}

type instanceList []*workflow.Instance

func (l instanceList) Header() []string {
	return []string{"ID", "TENANT", "DEFINITION", "ENTITY", "STATUS", "STEP", "UPDATED"}
}

func (l instanceList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, inst := range l {
		rows = append(rows, []string{
			inst.ID,
			inst.TenantID,
			fmt.Sprintf("%s@%d", inst.DefinitionID, inst.DefinitionVersion),
			inst.EntityType + "/" + inst.EntityID,
			string(inst.Status),
			strconv.Itoa(inst.CurrentStep),
			inst.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func writeInstance(cmd *cobra.Command, format string, view instanceView) error {
	if format == "json" {
		return render(cmd, format, view)
	}
	w := output(cmd)
	inst := view.Instance
	fmt.Fprintf(w, "Instance:   %s\n", inst.ID)
	fmt.Fprintf(w, "Definition: %s@%d (tenant %s)\n", inst.DefinitionID, inst.DefinitionVersion, inst.TenantID)
	fmt.Fprintf(w, "Entity:     %s/%s\n", inst.EntityType, inst.EntityID)
	fmt.Fprintf(w, "Status:     %s\n", inst.Status)
	if inst.BlockedReason != "" {
		fmt.Fprintf(w, "Blocked:    %s\n", inst.BlockedReason)
	}
	if inst.AwaitingRevision {
		fmt.Fprintf(w, "Awaiting revision, returns to step %d\n", inst.ReturnStep)
	}
	fmt.Fprintln(w)
	if err := render(cmd, "text", view); err != nil {
		return err
	}
	if len(view.History) > 0 {
		fmt.Fprintln(w)
		return render(cmd, "text", historyTable(view.History))
	}
	return nil
}

func startWorkflow(cmd *cobra.Command, args []string) error {
	flags := workflowStartFlags
	if flags.tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	evalCtx, err := readEvalContext(flags.contextFile, "")
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	definitionID, version := flags.definition, flags.version
	if definitionID == "" {
		def, err := eng.SelectDefinition(ctx, flags.tenant, flags.agentType, flags.risk)
		if err != nil {
			return cli.NewCommandError("workflow start", err)
		}
		definitionID, version = def.ID(), def.Version()
	}

	inst, err := eng.Start(ctx, workflow.StartRequest{
		TenantID:          flags.tenant,
		DefinitionID:      definitionID,
		DefinitionVersion: version,
		EntityType:        flags.entityType,
		EntityID:          flags.entityID,
		Submitter:         flags.submitter,
		Context:           evalCtx,
	})
	if err != nil {
		return cli.NewCommandError("workflow start", err)
	}
	return writeInstance(cmd, flags.format, instanceView{Instance: inst})
}

func applyWorkflowAction(cmd *cobra.Command, args []string) error {
	flags := workflowApplyFlags
	if flags.actor == "" {
		return fmt.Errorf("--actor is required")
	}
	action, err := workflow.ParseAction(args[1])
	if err != nil {
		return fmt.Errorf("%q: %w", args[1], err)
	}
	if action.System() {
		return fmt.Errorf("%s is reserved for rule actions", action)
	}

	payload := map[string]any{}
	if flags.notes != "" {
		payload["notes"] = flags.notes
	}
	if flags.assignee != "" {
		payload["assignee"] = flags.assignee
	}
	if flags.step > 0 {
		payload["step"] = flags.step
	}
	if flags.expectedStep > 0 {
		payload["expected_step"] = flags.expectedStep
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	inst, err := eng.ApplyAction(ctx, args[0], action, flags.actor, payload)
	if inst != nil {
		if werr := writeInstance(cmd, flags.format, instanceView{Instance: inst}); werr != nil {
			return werr
		}
	}
	if err != nil {
		return cli.NewCommandError("workflow apply", err)
	}
	return nil
}

func showWorkflow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	inst, err := eng.Workflow().Get(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("workflow show", err)
	}
	history, err := eng.Workflow().History(ctx, inst.ID)
	if err != nil {
		return cli.NewCommandError("workflow show", err)
	}
	return writeInstance(cmd, workflowShowFlags.format, instanceView{Instance: inst, History: history})
}

func listWorkflows(cmd *cobra.Command, args []string) error {
	filter := workflow.InstanceFilter{TenantID: workflowListFlags.tenant, Limit: workflowListFlags.limit}
	for _, s := range workflowListFlags.statuses {
		filter.Statuses = append(filter.Statuses, workflow.Status(s))
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	instances, err := eng.Workflow().ListInstances(ctx, filter)
	if err != nil {
		return cli.NewCommandError("workflow list", err)
	}
	return render(cmd, workflowListFlags.format, instanceList(instances))
}
