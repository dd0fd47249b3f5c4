// Command sea-e2e runs YAML end-to-end suites against APIs and pages.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// errFailed means the suite ran and did not pass.
var errFailed = errors.New("FAIL")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errFailed):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sea-e2e",
		Short: "Run end-to-end suites",
		Long: `Run end-to-end suites written as YAML command chains.

Examples:
  sea-e2e run --spec testdata/suites/petstore.yaml
  sea-e2e run --spec suite.yaml --browser chrome --parallel 4
  sea-e2e run --spec suite.yaml --watch
  sea-e2e list --spec suite.yaml
  sea-e2e validate suites/*.yaml
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Engine config file (YAML)")

	cmd.AddCommand(runCmd(&configPath))
	cmd.AddCommand(listCmd())
	cmd.AddCommand(validateCmd())
	return cmd
}
