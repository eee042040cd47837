// Command paynews fetches, searches and manages fintech news from the
// terminal. It shares its wiring with the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var Version = "dev"

var timeNow = time.Now

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	asJSON     bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "paynews",
		Short:         "PayNews - fintech news aggregator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: paynews.yaml in . or the XDG config dir)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(fetchCmd(opts))
	root.AddCommand(searchCmd(opts))
	root.AddCommand(chatCmd(opts))
	root.AddCommand(articlesCmd(opts))
	root.AddCommand(backfillCmd(opts))
	return root
}
