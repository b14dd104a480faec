package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage pool accounts",
	}

	cmd.AddCommand(
		newAccountAddCmd(app),
		newAccountListCmd(app),
		newAccountRemoveCmd(app),
	)

	return cmd
}

func newAccountAddCmd(app *app) *cobra.Command {
	var refreshToken string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account by refresh token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := app.service.AddAccount(cmd.Context(), refreshToken)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added account %s\n", account.Key())
			return err
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token identifying the account")
	_ = cmd.MarkFlagRequired("refresh-token")

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.service.RestoreTrackers(cmd.Context()); err != nil {
				return err
			}

			statuses, err := app.service.Statuses(cmd.Context())
			if err != nil {
				return err
			}

			for _, status := range statuses {
				marker := " "
				if status.Active {
					marker = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d\t%s\thealth=%.0f tokens=%.0f\n",
					marker, status.Index, status.ID, status.HealthScore, status.Tokens)
			}

			return nil
		},
	}
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	var refreshToken string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account and its tracker state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.service.RestoreTrackers(cmd.Context()); err != nil {
				return err
			}

			if err := app.service.RemoveAccount(cmd.Context(), refreshToken); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "account removed")
			return err
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token of the account to remove")
	_ = cmd.MarkFlagRequired("refresh-token")

	return cmd
}
