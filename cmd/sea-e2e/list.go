package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sea-e2e/internal/contract"
	"sea-e2e/internal/parser"
)

func listCmd() *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios of a suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if spec == "" {
				return errors.New("missing --spec")
			}
			suite, err := parser.New().ParseFile(spec)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}

			fmt.Printf("%s (%d scenarios)\n\n", suite.Name, len(suite.Scenarios))
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTAGS\tSTEPS\tENV")
			for _, sc := range suite.Scenarios {
				steps := len(sc.Setup) + len(sc.Steps)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", sc.Name, strings.Join(sc.Tags, ","), steps, sc.Env)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "Path to the YAML test suite")
	return cmd
}

func validateCmd() *cobra.Command {
	var openapiPath string

	cmd := &cobra.Command{
		Use:   "validate <suite.yaml>...",
		Short: "Check suites without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if openapiPath != "" {
				if _, err := contract.LoadFromFile(openapiPath); err != nil {
					return fmt.Errorf("openapi load: %w", err)
				}
			}
			var failed int
			for _, path := range args {
				if _, err := parser.New().ParseFile(path); err != nil {
					failed++
					fmt.Printf("%s %s\n", color.RedString("invalid"), err)
					continue
				}
				fmt.Printf("%s   %s\n", color.GreenString("ok"), path)
			}
			if failed > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&openapiPath, "openapi", "", "Also check that this OpenAPI document loads")
	return cmd
}
