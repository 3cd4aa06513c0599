package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/workflow"
)

var (
	tokenRole       string
	tokenDepartment string
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for a user",
	Long: `Mint a bearer token signed with LEAVE_JWT_SECRET.

Users of the demo roster need no --role or --department:
  leavectl token alice
  leavectl token hod-cs`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSecret(); err != nil {
			return err
		}

		session, ok := api.ScenarioSession(args[0])
		if !ok || cmd.Flags().Changed("role") || cmd.Flags().Changed("department") {
			role, err := workflow.ParseRole(tokenRole)
			if err != nil {
				return err
			}
			session = workflow.Session{UserID: args[0], Role: role, Department: tokenDepartment}
		}

		t, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL).Issue(session)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario <id>",
	Short: "Reset the server to a demo scenario and print tokens",
	Long: `Reset a development server to a demo scenario and print a token per user.

Needs a Principal token; production servers do not offer scenarios.
  leavectl scenario school --token "$(leavectl token principal)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().LoadScenario(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Loaded %s\n", resp.Scenario)
		for _, u := range resp.Users {
			fmt.Fprintf(out, "  %-10s %-9s %-3s %s\n", u.ID, u.Role, u.Department, resp.Tokens[u.ID])
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(workflow.RoleStaff), "Role: STAFF, HOD or PRINCIPAL")
	tokenCmd.Flags().StringVar(&tokenDepartment, "department", "", "Department code")
	rootCmd.AddCommand(tokenCmd, scenarioCmd)
}
