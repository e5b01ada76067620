package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"etlverify/internal/ledger"
)

var (
	ledgerRun   string
	ledgerFiles bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or verify the evidence ledger",
}

var ledgerInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List sealed evidence blocks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tTIME\tRUN\tTITLE\tHASH")
		for _, b := range l.Blocks() {
			if ledgerRun != "" && b.RunID != ledgerRun {
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", b.Index, b.Timestamp, b.RunID, b.Title, short(b.Hash))
		}
		return tw.Flush()
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check hashes, links and signatures of the whole chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		if err := l.VerifyChain(); err != nil {
			return fmt.Errorf("ledger verification failed: %w", err)
		}
		if ledgerFiles {
			if err := l.VerifyEvidence(ledgerRun); err != nil {
				return fmt.Errorf("evidence verification failed: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ledger ok: %d blocks, head %s\n", l.Len(), short(l.LastHash()))
		return nil
	},
}

func init() {
	ledgerInspectCmd.Flags().StringVar(&ledgerRun, "run", "", "only blocks of this run id")
	ledgerVerifyCmd.Flags().StringVar(&ledgerRun, "run", "", "with --files, only rehash evidence of this run id")
	ledgerVerifyCmd.Flags().BoolVar(&ledgerFiles, "files", false, "also rehash the evidence files")
	ledgerCmd.AddCommand(ledgerInspectCmd, ledgerVerifyCmd)
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
