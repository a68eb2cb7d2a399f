package main

import (
	"fmt"

	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/spf13/cobra"
)

func workbookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workbook",
		Short: "Inspect scenario workbooks",
	}
	cmd.AddCommand(workbookValidateCmd())
	cmd.AddCommand(workbookResolveCmd())
	return cmd
}

func workbookValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "validate <file>",
		Short:        "Validate a workbook against the schema and its phase references",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := workbook.LoadFile(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d phases)\n", args[0], len(wb.Phases))
			return err
		},
	}
}

func workbookResolveCmd() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:          "resolve <file>",
		Short:        "Print a workbook with every default filled in",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := workbook.LoadFile(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), workbook.Resolve(wb, workbook.ResolveOptions{Seed: seed}))
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for generated weather")
	return cmd
}
