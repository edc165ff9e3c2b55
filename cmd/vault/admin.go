package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MuhammadDanishgtr/AI-Employee/internal/vault"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault folder tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Init(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vault ready at %s\n", store.Root())
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print per-stage counts and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, audit, err := openVault()
			if err != nil {
				return err
			}
			aggregator, err := vault.NewAggregator(vault.AggregatorOptions{
				Store: store,
				Audit: audit,
			})
			if err != nil {
				return err
			}
			snapshot, err := aggregator.Snapshot()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Vault: %s\nGenerated: %s\n\n", store.Root(), snapshot.GeneratedAt)
			for _, stage := range vault.Stages {
				fmt.Fprintf(out, "%-17s %d\n", stage, snapshot.Counts[stage])
			}
			fmt.Fprintln(out)
			if len(snapshot.RecentLog) == 0 {
				fmt.Fprintln(out, "No recent activity.")
				return nil
			}
			for _, entry := range snapshot.RecentLog {
				fmt.Fprintf(out, "%s  %-7s %s: %s\n", entry.Timestamp, entry.Result, entry.ActionType, entry.Details)
			}
			return nil
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <record>",
		Short: "Move a pending record to Approved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := openGate()
			if err != nil {
				return err
			}
			if err := gate.Approve(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approved %s; the effect runs on the next approval cycle\n", args[0])
			return nil
		},
	}
}

func newRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <record>",
		Short: "Move a pending record to Rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := openGate()
			if err != nil {
				return err
			}
			if err := gate.Reject(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rejected %s; it will be archived on the next approval cycle\n", args[0])
			return nil
		},
	}
}
