package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mobizinc/changegate/internal/types"
	"github.com/Mobizinc/changegate/internal/ui"
)

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent validation requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rows, err := store.ListRecent(ctx, recentLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println(ui.MutedStyle.Render("no validation requests"))
			return nil
		}

		fmt.Println(ui.HeaderStyle.Render(fmt.Sprintf("%-12s %-12s %-14s %-10s %s",
			"CHANGE", "STATUS", "COMPONENT", "VERDICT", "UPDATED")))
		for _, row := range rows {
			verdict := ui.MutedStyle.Render("-")
			if row.Verdict != nil {
				verdict = ui.RenderVerdict(row.Verdict.OverallStatus)
			}
			fmt.Printf("%-12s %-12s %-14s %-10s %s\n",
				row.ChangeNumber,
				ui.RenderStatus(row.Status),
				row.ComponentType,
				verdict,
				row.UpdatedAt.Local().Format("2006-01-02 15:04"))

			if row.Status == types.StatusFailed && row.FailureReason != "" {
				fmt.Printf("  %s\n", ui.FailStyle.Render(row.FailureReason))
			}
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "maximum rows to show")
}

func printVerdict(changeID string, verdict *types.Verdict) {
	if verdict == nil {
		fmt.Println(ui.MutedStyle.Render("no verdict"))
		return
	}

	fmt.Printf("%s %s\n", ui.HeaderStyle.Render(changeID), ui.RenderVerdict(verdict.OverallStatus))
	for _, name := range verdict.CheckNames() {
		if verdict.Checks[name] {
			fmt.Printf("  %s %s\n", ui.PassStyle.Render("✓"), name)
		} else {
			fmt.Printf("  %s %s\n", ui.FailStyle.Render("✗"), name)
		}
	}
	if verdict.Synthesis != "" {
		fmt.Printf("\n%s\n", verdict.Synthesis)
	}
	for _, step := range verdict.RemediationSteps {
		fmt.Printf("%s %s\n", ui.WarnStyle.Render("→"), step)
	}
}
