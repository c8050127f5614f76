package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/bulk"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/remote"
	"github.com/agentic-research/intentfs/internal/reports"
	"github.com/agentic-research/intentfs/internal/vpath"
)

var (
	remoteReport bool
	listReports  bool
)

// logGap separates log bursts that are further apart than this.
const logGap = 30 * time.Second

func init() {
	reportCmd.Flags().BoolVar(&remoteReport, "remote", false, "Fetch the last audit report from the server")
	reportCmd.Flags().BoolVar(&listReports, "list", false, "List kept reports of an intent-type (or all)")
	rootCmd.AddCommand(auditCmd, syncCmd, stateCmd, reportCmd, logsCmd)
}

// targets resolves every path to the intent instances below it.
func targets(ctx context.Context, paths []string) ([]bulk.Target, error) {
	var out []bulk.Target
	for _, p := range paths {
		ref, err := current.warm(ctx, p)
		if err != nil {
			return nil, err
		}
		switch ref.Kind {
		case vpath.IntentType:
			_, err = current.tree.List(ctx, ref.Path()+"/"+vpath.IntentsDir)
		case vpath.Intents:
			_, err = current.tree.List(ctx, ref.Path())
		}
		if err != nil {
			return nil, err
		}
		ts, err := current.bulk.Targets(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func summarize(op string, res bulk.Result) error {
	rows := make([][]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		status := "ok"
		switch {
		case o.Err != nil:
			status = "failed: " + o.Err.Error()
		case o.Skipped:
			status = "unchanged"
		case op == "audit" && !o.Aligned:
			status = "misaligned"
		case op == "audit":
			status = "aligned"
		}
		rows = append(rows, []string{o.Target.Key(), o.Target.Target, status})
	}
	if err := current.ui.Table([]string{"Intent-type", "Target", "Result"}, rows); err != nil {
		return err
	}
	if n := res.Failed(); n > 0 {
		return fmt.Errorf("%s failed for %d of %d targets: %w", op, n, len(res.Outcomes), res.Err())
	}
	return nil
}

var auditCmd = &cobra.Command{
	Use:   "audit <path>...",
	Short: "Audit intents against the network",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := targets(cmd.Context(), args)
		if err != nil {
			return err
		}
		return summarize("audit", current.bulk.Audit(cmd.Context(), ts))
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <path>...",
	Short: "Synchronize intents to the network",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := targets(cmd.Context(), args)
		if err != nil {
			return err
		}
		return summarize("sync", current.bulk.Synchronize(cmd.Context(), ts))
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <state> <path>...",
	Short: "Set the desired network state of intents",
	Long:  "States: active, suspend, delete, saved, planned, deployed.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := api.ParseDesiredState(args[0])
		if err != nil {
			// every target reports the invalid state
			state = api.DesiredState(args[0])
		}
		ts, err := targets(cmd.Context(), args[1:])
		if err != nil {
			return err
		}
		return summarize("state", current.bulk.SetState(cmd.Context(), ts, state))
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <intent-path>",
	Short: "Show the audit report of an intent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if listReports {
			key := ""
			if len(args) == 1 {
				ref, err := vpath.ResolvePath(args[0])
				if err != nil {
					return err
				}
				key = ref.Key()
			}
			return listKept(ctx, key)
		}
		if len(args) != 1 {
			return faults.New(faults.Invalid, "report", "", "an intent path is required")
		}

		ts, err := targets(ctx, args)
		if err != nil {
			return err
		}
		if len(ts) != 1 {
			return faults.New(faults.Invalid, "report", args[0], "path must name one intent")
		}
		var r reports.Report
		if remoteReport {
			r, err = current.bulk.LastAuditReport(ctx, ts[0])
		} else {
			r, err = current.bulk.Report(ctx, ts[0])
		}
		if err != nil {
			return err
		}
		return renderReport(cmd.OutOrStdout(), r)
	},
}

func listKept(ctx context.Context, key string) error {
	rs, err := current.reports.List(ctx, key)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		status := "aligned"
		if r.Misaligned() {
			status = "misaligned"
		}
		rows = append(rows, []string{r.IntentType, r.Target, r.Taken.Format(time.DateTime), status})
	}
	return current.ui.Table([]string{"Intent-type", "Target", "Taken", "Result"}, rows)
}

// renderReport prints every misalignment section of r.
func renderReport(out io.Writer, r reports.Report) error {
	fmt.Fprintf(out, "Audit report %s/%s (%s)\n", r.IntentType, r.Target, r.Taken.Format(time.DateTime))
	findings := r.Doc.Findings()
	if len(findings) == 0 {
		_, err := fmt.Fprintln(out, "aligned")
		return err
	}
	section := ""
	for _, f := range findings {
		if f.Section != section {
			section = f.Section
			fmt.Fprintf(out, "\n%s:\n", section)
		}
		line := "  " + f.ObjectID
		if f.Name != "" {
			line += " " + f.Name
		}
		if f.DeviceName != "" {
			line += " @" + f.DeviceName
		}
		if f.Expected != "" || f.Actual != "" {
			line += fmt.Sprintf(": expected %q, actual %q", f.Expected, f.Actual)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

var logsCmd = &cobra.Command{
	Use:   "logs <path>...",
	Short: "Show scripted-engine logs of the last 10 minutes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		scopes := make([]remote.LogScope, 0, len(args))
		for _, p := range args {
			ref, err := vpath.ResolvePath(p)
			if err != nil {
				return err
			}
			if ref.Kind == vpath.Root {
				return faults.New(faults.Invalid, "logs", p, "name an intent-type or an intent")
			}
			scope := remote.LogScope{IntentType: ref.Name, Version: ref.Version}
			if ref.Kind == vpath.Intent {
				scope.Target = ref.Item
			}
			scopes = append(scopes, scope)
		}
		if _, err := current.tree.List(ctx, "/"); err != nil {
			return err
		}
		rel, err := current.tree.Release(ctx)
		if err != nil {
			return err
		}
		entries, err := current.remote.SearchLogs(ctx, scopes, rel)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, line := range formatLogs(entries) {
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

// formatLogs orders entries oldest first and puts a blank line between
// entries more than logGap apart.
func formatLogs(entries []api.LogEntry) []string {
	sorted := append([]api.LogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	lines := make([]string, 0, len(sorted))
	for i, e := range sorted {
		if i > 0 && e.Time.Sub(sorted[i-1].Time) > logGap {
			lines = append(lines, "")
		}
		lines = append(lines, e.String())
	}
	return lines
}
