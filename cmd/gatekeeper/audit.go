package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/audit/export"
	"mercator-hq/gatekeeper/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, verify and export the audit trail",
	Long: `Work with the hash-chained audit trail of workflow transitions.

Examples:
  # Entries of one instance
  gatekeeper audit list --instance 6f1c...

  # Everything a user did in the last day
  gatekeeper audit list --actor sam@acme.test --since 24h

  # Verify every chain
  gatekeeper audit verify --all

  # Export a tenant's trail as CSV
  gatekeeper audit export --tenant acme --format csv --output acme.csv`,
}

// auditQueryFlags are shared by list and export.
type auditQueryFlags struct {
	instance string
	tenant   string
	actor    string
	action   string
	since    string
	until    string
	limit    int
}

func (f *auditQueryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.instance, "instance", "", "instance ID")
	cmd.Flags().StringVarP(&f.tenant, "tenant", "t", "", "tenant ID")
	cmd.Flags().StringVar(&f.actor, "actor", "", "actor")
	cmd.Flags().StringVar(&f.action, "action", "", "action name")
	cmd.Flags().StringVar(&f.since, "since", "", "start time (RFC 3339) or a duration before now, e.g. 24h")
	cmd.Flags().StringVar(&f.until, "until", "", "end time (RFC 3339) or a duration before now")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of entries")
}

func (f *auditQueryFlags) query(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		InstanceID: f.instance,
		TenantID:   f.tenant,
		Actor:      f.actor,
		Action:     f.action,
		Limit:      f.limit,
	}
	var err error
	if q.StartTime, err = parseTimeFlag("since", f.since, now); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseTimeFlag("until", f.until, now); err != nil {
		return nil, err
	}
	return q, nil
}

// parseTimeFlag accepts an RFC 3339 timestamp or a duration subtracted from
// now.
func parseTimeFlag(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %q is neither an RFC 3339 time nor a duration", name, value)
	}
	t := now.Add(-d)
	return &t, nil
}

var (
	auditListFlags   auditQueryFlags
	auditListFormat  string
	auditExportFlags auditQueryFlags
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Args:  cobra.NoArgs,
	RunE:  listAudit,
}

var auditVerifyFlags struct {
	all    bool
	format string
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [instance-id...]",
	Short: "Verify audit hash chains",
	Long: `Recompute the hash chain of each instance and report the first broken
link. Exits with status 2 when any chain is broken.`,
	RunE: verifyAudit,
}

var auditExportOpts struct {
	format string
	output string
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE:  exportAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd, auditExportCmd)

	auditListFlags.register(auditListCmd)
	auditListCmd.Flags().StringVar(&auditListFormat, "format", "text", "output format: text, json, csv")

	auditVerifyCmd.Flags().BoolVar(&auditVerifyFlags.all, "all", false, "verify every instance in the trail")
	auditVerifyCmd.Flags().StringVar(&auditVerifyFlags.format, "format", "text", "output format: text, json, csv")

	auditExportFlags.register(auditExportCmd)
	auditExportCmd.Flags().StringVar(&auditExportOpts.format, "format", "json", "export format: json, csv")
	auditExportCmd.Flags().StringVarP(&auditExportOpts.output, "output", "o", "", "output file (stdout when empty)")
}

type historyTable []*audit.Entry

func (h historyTable) Header() []string {
	return []string{"SEQ", "TIME", "INSTANCE", "ACTOR", "ACTION", "STEP", "STATUS", "NOTES"}
}

func (h historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(h))
	for _, e := range h {
		step := strconv.Itoa(e.PreviousStep)
		if e.NewStep != e.PreviousStep {
			step += "->" + strconv.Itoa(e.NewStep)
		}
		status := e.PreviousStatus
		if e.NewStatus != e.PreviousStatus {
			status += "->" + e.NewStatus
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.Sequence, 10),
			audit.FormatTime(e.Timestamp),
			e.InstanceID,
			e.Actor,
			e.Action,
			step,
			status,
			e.Notes,
		})
	}
	return rows
}

func listAudit(cmd *cobra.Command, args []string) error {
	q, err := auditListFlags.query(time.Now())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	entries, err := eng.Recorder().List(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit list", err)
	}
	return render(cmd, auditListFormat, historyTable(entries))
}

// ChainStatus is the verification result of one instance.
type ChainStatus struct {
	InstanceID string `json:"instance_id"`
	Entries    int    `json:"entries"`
	Intact     bool   `json:"intact"`
	Problem    string `json:"problem,omitempty"`
}

type verifyReport []ChainStatus

func (r verifyReport) Header() []string {
	return []string{"INSTANCE", "ENTRIES", "RESULT"}
}

func (r verifyReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, s := range r {
		result := "ok"
		if !s.Intact {
			result = s.Problem
		}
		rows = append(rows, []string{s.InstanceID, strconv.Itoa(s.Entries), result})
	}
	return rows
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !auditVerifyFlags.all {
		return fmt.Errorf("pass instance IDs or --all")
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()
	recorder := eng.Recorder()

	counts := map[string]int{}
	entries, err := recorder.List(ctx, &audit.Query{})
	if err != nil {
		return cli.NewCommandError("audit verify", err)
	}
	for _, e := range entries {
		counts[e.InstanceID]++
	}

	ids := args
	if auditVerifyFlags.all {
		ids = make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	report := make(verifyReport, 0, len(ids))
	broken := 0
	for _, id := range ids {
		status := ChainStatus{InstanceID: id, Entries: counts[id], Intact: true}
		if err := recorder.Verify(ctx, id); err != nil {
			var tamper *audit.TamperError
			if !errors.As(err, &tamper) {
				return cli.NewCommandError("audit verify", err)
			}
			status.Intact = false
			status.Problem = tamper.Error()
			broken++
		}
		report = append(report, status)
	}

	if err := render(cmd, auditVerifyFlags.format, report); err != nil {
		return err
	}
	if broken > 0 {
		return &cli.FindingsError{Command: "audit verify", Count: broken}
	}
	return nil
}

func exportAudit(cmd *cobra.Command, args []string) (err error) {
	q, err := auditExportFlags.query(time.Now())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	eng, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	exportCfg := eng.Config().Audit.Export
	exporter, ok := export.ForFormat(auditExportOpts.format, exportCfg.JSONPretty, exportCfg.CSVIncludeHeader)
	if !ok {
		return fmt.Errorf("unknown export format %q (want json or csv)", auditExportOpts.format)
	}

	entries, err := eng.Recorder().List(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}

	var w io.Writer = output(cmd)
	if auditExportOpts.output != "" {
		f, ferr := os.Create(auditExportOpts.output)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if err := exporter.Export(ctx, entries, w); err != nil {
		return cli.NewCommandError("audit export", err)
	}
	return nil
}
