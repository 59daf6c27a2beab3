package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sakif/survey-access/internal/service"
)

var (
	flagAdminName     string
	flagAdminEmail    string
	flagAdminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an approved administrator account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := newAuthService(cmd, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		user, err := accounts.CreateAdmin(cmd.Context(), service.RegisterInput{
			Name:     flagAdminName,
			Email:    flagAdminEmail,
			Password: flagAdminPassword,
		})
		if err != nil {
			return fmt.Errorf("creating admin: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s <%s> (id %s)\n", user.Name, user.Email, user.ID)
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List registrations waiting for approval",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := newAuthService(cmd, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		users, err := accounts.ListUsers(cmd.Context(), true)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending registrations.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tREGISTERED")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, humanize.Time(u.CreatedAt))
		}
		return tw.Flush()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <user-id>",
	Short: "Approve a registration and email the survey link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := newAuthService(cmd, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		user, err := accounts.Approve(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("approving %s: %w", args[0], err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Approved %s <%s>; access expires %s\n",
			user.Name, user.Email, user.AccessTokenExpiresAt.Format(time.RFC1123))
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&flagAdminName, "name", "", "Admin display name")
	createAdminCmd.Flags().StringVar(&flagAdminEmail, "email", "", "Admin login email")
	createAdminCmd.Flags().StringVar(&flagAdminPassword, "password", "", "Admin password (6 to 72 bytes)")
	_ = createAdminCmd.MarkFlagRequired("name")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(createAdminCmd, pendingCmd, approveCmd)
}
