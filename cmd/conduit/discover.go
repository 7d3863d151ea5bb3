package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/conduit/internal/config"
	"github.com/vango-dev/conduit/pkg/registry"
)

func discoverCmd(load func() (*config.Config, error)) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "discover [dir...]",
		Short: "Scan templates for component references",
		Long: `Scan template directories for component references and write a JSON
manifest of the identifiers found.

Directories default to template_dirs from the configuration.

Examples:
  conduit discover
  conduit discover templates/ -o components.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			dirs := cfg.TemplateDirs
			if len(args) > 0 {
				dirs = args
			}
			ids, err := registry.ScanDirs(dirs, cfg.TemplateExts)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := registry.WriteManifest(w, ids); err != nil {
				return err
			}
			if output != "" {
				success("Wrote %d component(s) to %s", len(ids), output)
			} else {
				fmt.Fprintln(os.Stderr, len(ids), "component(s) found")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Manifest file (default stdout)")

	return cmd
}
