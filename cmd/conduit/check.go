package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/conduit"
	"github.com/vango-dev/conduit/internal/config"
	cerrors "github.com/vango-dev/conduit/internal/errors"
)

func checkCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the startup checks",
		Long: `Load the configuration, discover components and report every issue
the runtime would report at startup. Exits non-zero when an issue is an
error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, err := conduit.New(cfg, conduit.WithLogger(newLogger(cfg)))
			if err != nil {
				return err
			}
			defer app.Close()

			if _, _, err := app.Discover(); err != nil {
				return fmt.Errorf("discovering components: %w", err)
			}
			issues := app.Check()
			if len(issues) == 0 {
				success("No issues found")
				return nil
			}
			cerrors.PrintIssues(os.Stderr, issues)
			if cerrors.HasErrors(issues) {
				return fmt.Errorf("%d issue(s) found", len(issues))
			}
			warn("%d warning(s)", len(issues))
			return nil
		},
	}
}
