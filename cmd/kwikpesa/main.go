package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kwikpesa",
		Short:         "KwikPesa gateway operator tools",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("fees", "", "Fee schedule YAML (defaults to FEE_SCHEDULE_PATH or the built-in schedule)")

	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(issueCredentialsCmd())
	rootCmd.AddCommand(feesCmd())

	return rootCmd
}
