package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vango-dev/conduit"
	"github.com/vango-dev/conduit/internal/config"
	"github.com/vango-dev/conduit/pkg/cleaner"
)

func cleanCmd(load func() (*config.Config, error)) *cobra.Command {
	var tasks cleaner.Tasks

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete expired sessions and orphaned user data",
		Long: `Run a cleaner pass now, regardless of clean_interval.

Without flags every task runs.

Examples:
  conduit clean
  conduit clean --sessions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !tasks.Sessions && !tasks.UserData {
				tasks = cleaner.All()
			}
			return runClean(cmd.Context(), cfg, tasks)
		},
	}

	cmd.Flags().BoolVar(&tasks.Sessions, "sessions", false, "Delete expired component sessions")
	cmd.Flags().BoolVar(&tasks.UserData, "user-data", false, "Delete user data of deleted users")

	return cmd
}

func runClean(ctx context.Context, cfg *config.Config, tasks cleaner.Tasks) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := conduit.New(cfg, conduit.WithLogger(newLogger(cfg)))
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Clean(ctx, tasks)
	if err != nil {
		return err
	}
	if tasks.Sessions {
		success("Deleted %d expired sessions", res.Sessions)
	}
	if tasks.UserData {
		success("Deleted %d orphaned user data rows", res.UserData)
	}
	info("Took %s", res.Duration)
	return nil
}
