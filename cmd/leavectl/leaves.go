package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/handshake"
	"github.com/warp/leave-engine/workflow"
)

var (
	leavesSince   time.Duration
	leavesFollow  bool
	decideComment string
)

var leavesCmd = &cobra.Command{
	Use:   "leaves",
	Short: "List your recent leave requests",
	Long: `List your recent leave requests.

With --follow, keeps polling until every listed leave is approved,
rejected or cancelled, printing each status change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		c := newClient()

		leaves, err := c.ListRecentLeaveRequests(ctx, "", leavesSince)
		if err != nil {
			return err
		}
		if err := printLeaves(out, leaves); err != nil {
			return err
		}
		if !leavesFollow {
			return nil
		}

		session, err := c.Me(ctx)
		if err != nil {
			return err
		}
		e, err := handshake.New(session, c,
			handshake.WithLogger(logger),
			handshake.WithPollInterval(cfg.PollInterval),
			handshake.WithNotifier(printNotifier(out)))
		if err != nil {
			return err
		}
		defer e.Close()
		return follow(ctx, e.Tracker(), leaves)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List leaves awaiting your decision (HOD / Principal)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		leaves, err := newClient().ApprovalQueue(cmd.Context())
		if err != nil {
			return err
		}
		return printLeaves(cmd.OutOrStdout(), leaves)
	},
}

var decideCmd = &cobra.Command{
	Use:       "decide <leave-id> <approve|reject>",
	Short:     "Approve or reject a leave (HOD / Principal)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"approve", "reject"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var approve bool
		switch args[1] {
		case "approve":
			approve = true
		case "reject":
		default:
			return fmt.Errorf("decision must be approve or reject, got %q", args[1])
		}
		leave, err := newClient().DecideLeave(cmd.Context(), args[0], approve, decideComment)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Leave %s by %s: %s\n", leave.ID, leave.UserID, leave.Status.Label())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <leave-id>",
	Short: "Show who decided a leave, and their comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actions, err := newClient().LeaveHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(actions) == 0 {
			fmt.Fprintln(out, "No decisions yet.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tBY\tACTION\tSTATUS\tCOMMENT")
		for _, a := range actions {
			fmt.Fprintf(w, "%s\t%s (%s)\t%s\t%s\t%s\n",
				a.At.Format(time.RFC3339), a.ActorID, a.ActorRole, a.Action, a.To.Label(), a.Comment)
		}
		return w.Flush()
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <leave-id>",
	Short: "Withdraw one of your pending leaves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leave, err := newClient().CancelLeave(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Leave %s: %s\n", leave.ID, leave.Status.Label())
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show remaining leave days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bal, err := newClient().Balance(cmd.Context())
		if err != nil {
			return err
		}
		types := make([]string, 0, len(bal.Days))
		for t := range bal.Days {
			types = append(types, string(t))
		}
		sort.Strings(types)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tDAYS")
		for _, t := range types {
			fmt.Fprintf(w, "%s\t%s\n", t, bal.Available(workflow.LeaveType(t)))
		}
		return w.Flush()
	},
}

func init() {
	leavesCmd.Flags().DurationVar(&leavesSince, "since", 30*24*time.Hour, "How far back to list")
	leavesCmd.Flags().BoolVarP(&leavesFollow, "follow", "f", false, "Poll until every leave is decided")
	decideCmd.Flags().StringVarP(&decideComment, "comment", "m", "", "Comment for the author")

	rootCmd.AddCommand(leavesCmd, queueCmd, decideCmd, historyCmd, cancelCmd, balanceCmd)
}

// follow tracks every undecided leave until the tracker has nothing left.
func follow(ctx context.Context, tracker *handshake.LeaveTracker, leaves []workflow.LeaveRequest) error {
	for _, l := range leaves {
		tracker.Track(l)
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for tracker.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printLeaves(out io.Writer, leaves []workflow.LeaveRequest) error {
	if len(leaves) == 0 {
		fmt.Fprintln(out, "No leave requests.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tTYPE\tFROM\tTO\tDAYS\tSTATUS")
	for _, l := range leaves {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.UserID, l.LeaveType,
			l.StartDate.Format("2006-01-02"), l.EndDate.Format("2006-01-02"),
			l.Duration(), l.Status.Label())
	}
	return w.Flush()
}
