/*
main.go - leavectl, the command-line client for the leave server

PURPOSE:
  Runs the substitution handshake engine against a remote server and
  exposes the inbox and approval calls, one command per user action.

COMMANDS:
  token      Mint a bearer token (needs LEAVE_JWT_SECRET)
  status     Show where the caller's handshake stands after a restart
  apply      Search, request a substitute, wait, then file the leave
  inbox      List substitution requests addressed to the caller
  respond    Accept or reject a substitution request
  leaves     List recent leaves, optionally following them to a decision
  queue      List leaves awaiting the caller's decision
  decide     Approve or reject a leave, optionally with a comment
  history    Show the decisions taken on a leave
  cancel     Withdraw the caller's own leave
  balance    Show remaining leave days
  work       Record night or compensatory work; decide it as HOD
  credits    Show the credit ledger behind the balance
  accrue     Credit monthly earned leave now (Principal)
  scenario   Load a demo scenario on the server

CONFIGURATION:
  --api and --token default to LEAVE_API_URL and LEAVE_TOKEN, read from
  the environment or a .env file.

SEE ALSO:
  - client/client.go: HTTP transport
  - handshake/engine.go: The engine driven by status and apply
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/client"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/logging"
)

var (
	apiURL  string
	token   string
	verbose bool

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "leavectl",
	Short:         "Leave requests with substitute handshakes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		l, err := logging.New(cfg.Env)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", cfg.APIURL, "Leave server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", cfg.Token, "Bearer token")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stdout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if client.IsUnauthenticated(err) {
			fmt.Fprintln(os.Stderr, "Hint: set LEAVE_TOKEN or pass --token (see 'leavectl token').")
		}
		os.Exit(1)
	}
}

// newClient returns a client for the configured server and token.
func newClient() *client.Client {
	return client.New(apiURL, token, client.WithLogger(logger))
}
