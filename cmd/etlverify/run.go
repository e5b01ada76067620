package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"etlverify/internal/app"
	"etlverify/internal/apperr"
	"etlverify/internal/core"
)

var errValidationFailed = errors.New("validation failed")

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a validation plan locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := core.LoadPlanFor(args[0], cfg.Remote.Transport)
	if err != nil {
		return err
	}
	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := a.Runner.Run(ctx, plan)
	if res != nil {
		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), res)
		}
	}
	if runErr != nil {
		return runErr
	}
	if !res.Passed {
		return errValidationFailed
	}
	return nil
}

func printResult(w io.Writer, res *core.RunResult) {
	fmt.Fprintf(w, "Run %s (%s)\n", res.RunID, res.Plan)
	if res.Verdict != nil {
		verdict := "completed"
		if !res.Verdict.Succeeded {
			verdict = res.Verdict.FailureReason
		}
		fmt.Fprintf(w, "Job: %s (%d output lines)\n", verdict, len(res.Verdict.ExitEvidence))
	}
	if len(res.Outcomes) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tDATASET\tRESULT\tDETAIL")
		for _, o := range res.Outcomes {
			result := "PASSED"
			if !o.Passed {
				result = "FAILED"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Check, o.Dataset, result, firstLine(o.Detail))
		}
		_ = tw.Flush()
	}
	for side, url := range res.Snapshots {
		fmt.Fprintf(w, "Snapshot %s: %s\n", side, url)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Stopped: %s\n", res.Error)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// exitCode distinguishes a failed validation (1) from an infrastructure
// failure (2) and a job that did not complete (3).
func exitCode(err error) int {
	switch {
	case errors.Is(err, errValidationFailed):
		return 1
	case errors.Is(err, apperr.ErrJobFailed):
		return 3
	case errors.Is(err, context.Canceled):
		return 130
	}
	return 2
}
