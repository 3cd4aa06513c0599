package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/handshake"
	"github.com/warp/leave-engine/workflow"
)

var (
	applyTo      string
	applyDate    string
	applyPeriod  string
	applyTime    string
	applyClass   string
	applyMessage string

	applyType   string
	applyStart  string
	applyEnd    string
	applyReason string
	applyHours  int
	applyWait   time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the caller's handshake as recovered from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := startEngine(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer e.Close()
		printSnapshot(cmd.OutOrStdout(), e.Snapshot())
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Request a substitute, wait for an answer, then file the leave",
	Long: `Run the full handshake for one leave.

Staff pick a substitute with --to (username or part of it). The command
sends the request, waits for the answer, and files the leave once it is
accepted. If an accepted substitution already exists, the leave is filed
straight away. HODs file directly; --to is ignored.

  leavectl apply --to jdoe --date 2025-03-01 --period "Period 2" --time 09:00 \
    --type CASUAL --start 2025-03-01 --end 2025-03-01 --reason "Family function"`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&applyTo, "to", "", "Substitute to ask (username search)")
	f.StringVar(&applyDate, "date", "", "Session date, YYYY-MM-DD (defaults to --start)")
	f.StringVar(&applyPeriod, "period", "", "Session period, e.g. \"Period 2\"")
	f.StringVar(&applyTime, "time", "", "Session time, HH:MM")
	f.StringVar(&applyClass, "class", "", "Class label")
	f.StringVar(&applyMessage, "message", "", "Note for the substitute")
	f.StringVar(&applyType, "type", string(workflow.LeaveCasual), "Leave type")
	f.StringVar(&applyStart, "start", "", "First day of leave, YYYY-MM-DD")
	f.StringVar(&applyEnd, "end", "", "Last day of leave (defaults to --start)")
	f.StringVar(&applyReason, "reason", "", "Reason for the leave")
	f.IntVar(&applyHours, "hours", 0, "Hours, for hourly leave")
	f.DurationVar(&applyWait, "wait", 30*time.Minute, "How long to wait for the substitute")

	rootCmd.AddCommand(statusCmd, applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fields, err := leaveFields()
	if err != nil {
		return err
	}

	e, err := startEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.Close()

	snap := e.Snapshot()
	switch {
	case e.CanSubmit():
		// HOD, or a staff member with an accepted substitution already.
	case snap.State == handshake.StateRequested:
		fmt.Fprintf(out, "Waiting for %s to answer...\n", candidateName(snap))
	default:
		if err := requestSubstitute(ctx, e, out, fields); err != nil {
			return err
		}
	}

	if !e.CanSubmit() {
		waitCtx, cancel := context.WithTimeout(ctx, applyWait)
		snap, err = e.WaitResolved(waitCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("no answer from %s yet; run 'leavectl apply' again later: %w", candidateName(snap), err)
		}
		if snap.State != handshake.StateAccepted {
			printSnapshot(out, snap)
			return errors.New("substitution was not accepted")
		}
	}

	leave, err := e.Submit(ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Leave %s filed: %s (%s days)\n", leave.ID, leave.Status.Label(), leave.Duration())
	return nil
}

// requestSubstitute drives the engine from PENDING to REQUESTED.
func requestSubstitute(ctx context.Context, e *handshake.Engine, out io.Writer, fields workflow.LeaveFields) error {
	if applyTo == "" {
		return errors.New("--to is required to request a substitute")
	}
	if e.State() != handshake.StateIdle {
		e.Reset()
	}

	users, err := e.StartSearch(ctx, applyTo)
	if err != nil {
		return err
	}
	pick, err := pickCandidate(users, applyTo)
	if err != nil {
		e.Reset()
		return err
	}
	if err := e.SelectCandidate(pick); err != nil {
		return err
	}

	date := applyDate
	if date == "" {
		date = fields.StartDate.Format(api.DateLayout)
	}
	sub, err := e.SendRequest(ctx, workflow.SubstitutionDetails{
		Date:       date,
		Period:     applyPeriod,
		Time:       applyTime,
		ClassLabel: applyClass,
		Message:    applyMessage,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Asked %s to cover %s %s on %s (request %s)\n",
		pick.Username, sub.Details.Period, sub.Details.Time, sub.Details.Date, sub.ID)
	return nil
}

// pickCandidate prefers an exact username match, then a single result.
func pickCandidate(users []workflow.User, query string) (workflow.User, error) {
	for _, u := range users {
		if strings.EqualFold(u.Username, query) || u.ID == query {
			return u, nil
		}
	}
	switch len(users) {
	case 0:
		return workflow.User{}, fmt.Errorf("no staff in your department match %q", query)
	case 1:
		return users[0], nil
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return workflow.User{}, fmt.Errorf("%q matches %s; be more specific", query, strings.Join(names, ", "))
}

func leaveFields() (workflow.LeaveFields, error) {
	end := applyEnd
	if end == "" {
		end = applyStart
	}
	req := api.SubmitLeaveRequest{
		LeaveType: strings.ToUpper(applyType),
		StartDate: applyStart,
		EndDate:   end,
		Reason:    applyReason,
		IsHourly:  applyHours > 0,
		Hours:     applyHours,
	}
	fields, err := req.Fields()
	if err != nil {
		return workflow.LeaveFields{}, err
	}
	return fields, fields.Validate()
}

// startEngine builds an engine for the token's session and runs Init.
func startEngine(ctx context.Context, out io.Writer) (*handshake.Engine, error) {
	c := newClient()
	session, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	e, err := handshake.New(session, c,
		handshake.WithLogger(logger),
		handshake.WithPollInterval(cfg.PollInterval),
		handshake.WithNotifier(printNotifier(out)))
	if err != nil {
		return nil, err
	}
	if _, err := e.Init(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func printNotifier(out io.Writer) handshake.Notifier {
	return handshake.NotifierFunc(func(n handshake.Notice) {
		switch n.Kind {
		case handshake.NoticeRejected, handshake.NoticeAwaitingResponse,
			handshake.NoticeLeaveStatusChanged, handshake.NoticeTransientFailure:
			fmt.Fprintf(out, "  %s\n", n.Message)
		}
	})
}

func printSnapshot(out io.Writer, s handshake.Snapshot) {
	fmt.Fprintf(out, "Handshake: %s\n", s.State)
	if s.Request != nil {
		d := s.Request.Details
		fmt.Fprintf(out, "  Request:    %s (%s)\n", s.Request.ID, s.Request.Status)
		fmt.Fprintf(out, "  Substitute: %s\n", candidateName(s))
		fmt.Fprintf(out, "  Session:    %s %s %s\n", d.Date, d.Period, d.Time)
	}
	if s.Reason != "" {
		fmt.Fprintf(out, "  Reason:     %s\n", s.Reason)
	}
}

func candidateName(s handshake.Snapshot) string {
	switch {
	case s.Selected != nil:
		return s.Selected.Username
	case s.Request != nil && s.Request.RequestedToName != "":
		return s.Request.RequestedToName
	case s.Request != nil:
		return s.Request.RequestedTo
	}
	return "the substitute"
}
