package main

import (
	"github.com/spf13/cobra"
)

func (cli *commandLine) billingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Subscription maintenance, meant to run daily",
		RunE:  cli.usage,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "remind",
			Short: "Notify the owners of organizations whose payment is overdue",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := cli.billingSvc.SendPaymentWarnings(cmd.Context(), nowFunc().UTC())
				cli.printf("%d organization(s) reminded\n", n)
				return err
			},
		},
		&cobra.Command{
			Use:   "deactivate",
			Short: "Deactivate organizations past their payment extension date",
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := cli.billingSvc.DeactivateExpired(cmd.Context(), nowFunc().UTC())
				cli.printf("%d organization(s) deactivated\n", n)
				return err
			},
		},
	)
	return cmd
}
