// Command cardaminal is the CLI dispatcher: a thin shim that builds a
// component from a chain's or wallet's on-disk config and calls
// straight into the core operation — it holds no business logic of
// its own.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/pkg/logging"
)

var (
	rootDir  string
	logLevel string
	log      *logging.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "cardaminal",
		Short: "A Cardano chain-follower and staging-transaction wallet CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logging.New(&logging.Config{Level: logLevel, TimeFormat: time.TimeOnly})
			logging.SetDefault(log)
		},
	}
	root.PersistentFlags().StringVar(&rootDir, "root-dir", "~/.cardaminal", "data directory root")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(chainCmd())
	root.AddCommand(walletCmd())
	root.AddCommand(txCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cardaminal:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a matched sentinel error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case isErr(err, cdmerr.ErrNotFound):
		return 2
	case isErr(err, cdmerr.ErrAlreadyExists):
		return 3
	case isErr(err, cdmerr.ErrInvalidArgument):
		return 4
	case isErr(err, cdmerr.ErrValidation):
		return 5
	case isErr(err, cdmerr.ErrAuth):
		return 6
	case isErr(err, cdmerr.ErrTransport):
		return 7
	default:
		return 1
	}
}
