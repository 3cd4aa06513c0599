package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/workflow"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List pending substitution requests addressed to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := newClient().ReceivedSubstitutionRequests(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(subs) == 0 {
			fmt.Fprintln(out, "No pending requests.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tDATE\tPERIOD\tTIME\tCLASS\tMESSAGE")
		for _, s := range subs {
			d := s.Details
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.RequestedByName, d.Date, d.Period, d.Time, d.ClassLabel, d.Message)
		}
		return w.Flush()
	},
}

var respondCmd = &cobra.Command{
	Use:       "respond <request-id> <accept|reject>",
	Short:     "Accept or reject a substitution request",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(workflow.DecisionAccept), string(workflow.DecisionReject)},
	RunE: func(cmd *cobra.Command, args []string) error {
		decision, err := workflow.ParseDecision(args[1])
		if err != nil {
			return err
		}
		sub, err := newClient().RespondToSubstitutionRequest(cmd.Context(), args[0], decision)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Request %s from %s is now %s\n", sub.ID, sub.RequestedByName, sub.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inboxCmd, respondCmd)
}
