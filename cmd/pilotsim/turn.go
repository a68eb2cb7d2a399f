package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/metalagman/pilotsim/internal/turn"
	"github.com/metalagman/pilotsim/internal/workbook"
	"github.com/spf13/cobra"
)

func turnCmd() *cobra.Command {
	var (
		workbookPath string
		requestPath  string
		transcript   string
		seed         uint64
	)
	cmd := &cobra.Command{
		Use:          "turn",
		Short:        "Process a single turn against a workbook and print the response",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := workbook.LoadFile(workbookPath)
			if err != nil {
				return err
			}
			wb = workbook.Resolve(wb, workbook.ResolveOptions{Seed: seed})

			req := turn.Request{SessionID: "cli", TurnIndex: 1, Difficulty: turn.DefaultProfile()}
			if requestPath != "" {
				data, err := os.ReadFile(requestPath)
				if err != nil {
					return fmt.Errorf("read request: %w", err)
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("decode request: %w", err)
				}
			}
			if cmd.Flags().Changed("transcript") {
				req.Transcript = transcript
			}
			if req.PhaseID == "" {
				req.PhaseID = wb.Phases[0].ID
			}

			set, err := collaborators(cmd.Context(), appConfig.Collaborators)
			if err != nil {
				return err
			}
			o := turn.New(set, turn.Config{CollaboratorTimeout: appConfig.Collaborators.Timeout})
			resp, err := o.Process(cmd.Context(), wb, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&workbookPath, "workbook", "", "workbook file (yaml, toml or json)")
	cmd.Flags().StringVar(&requestPath, "request", "", "turn request JSON file")
	cmd.Flags().StringVar(&transcript, "transcript", "", "trainee transmission, overrides the request transcript")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for generated workbook defaults")
	_ = cmd.MarkFlagRequired("workbook")
	return cmd
}
