package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/workflow"
)

var (
	workDate   string
	workHours  int
	workReason string
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Record night or compensatory work, and decide it as HOD",
	Long: `Extra work earns leave once the HOD approves it:
every third approved night earns one EARNED day, and every 8 hours of
compensatory work earn one COMPENSATORY day.

  leavectl work record night --date 2025-03-07 --hours 6 --reason "Hostel duty"
  leavectl work queue
  leavectl work decide <record-id> approve`,
}

var workRecordCmd = &cobra.Command{
	Use:       "record <night|compensatory>",
	Short:     "Record extra work for your HOD to decide",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"night", "compensatory"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := workflow.ParseWorkKind(args[0])
		if err != nil {
			return err
		}
		date := workDate
		if date == "" {
			date = time.Now().Format("2006-01-02")
		}
		rec, err := newClient().RecordWork(cmd.Context(), workflow.WorkFields{
			Kind:   kind,
			Date:   date,
			Hours:  workHours,
			Reason: workReason,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s work on %s (%dh): %s\n", rec.Kind, rec.Date, rec.Hours, rec.ID)
		return nil
	},
}

var workListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your work records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newClient().WorkRecords(cmd.Context())
		if err != nil {
			return err
		}
		return printWork(cmd.OutOrStdout(), recs)
	},
}

var workQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List work records awaiting your decision (HOD)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newClient().WorkQueue(cmd.Context())
		if err != nil {
			return err
		}
		return printWork(cmd.OutOrStdout(), recs)
	},
}

var workDecideCmd = &cobra.Command{
	Use:       "decide <record-id> <approve|reject>",
	Short:     "Approve or reject a work record (HOD)",
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
		rec, err := newClient().DecideWork(cmd.Context(), args[0], approve)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Work %s by %s: %s\n", rec.ID, rec.UserID, rec.Status)
		return nil
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show every day credited to your balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		credits, err := newClient().Credits(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(credits) == 0 {
			fmt.Fprintln(out, "No credits yet.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EFFECTIVE\tTYPE\tDAYS\tSOURCE\tREFERENCE")
		for _, c := range credits {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.EffectiveAt.Format("2006-01-02"), c.LeaveType, c.Days, c.Source, c.Reference)
		}
		return w.Flush()
	},
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Credit monthly earned leave now (Principal)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newClient().Accrue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", plural(n, "credit"))
		return nil
	},
}

func init() {
	f := workRecordCmd.Flags()
	f.StringVar(&workDate, "date", "", "Day worked, YYYY-MM-DD (defaults to today)")
	f.IntVar(&workHours, "hours", 0, "Hours worked")
	f.StringVar(&workReason, "reason", "", "What the work was")

	workCmd.AddCommand(workRecordCmd, workListCmd, workQueueCmd, workDecideCmd)
	rootCmd.AddCommand(workCmd, creditsCmd, accrueCmd)
}

func printWork(out io.Writer, recs []workflow.WorkRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No work records.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tKIND\tDATE\tHOURS\tSTATUS\tREASON")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.UserID, r.Kind, r.Date, r.Hours, r.Status, r.Reason)
	}
	return w.Flush()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
