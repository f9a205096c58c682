package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func (r *Root) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := os.Getenv("CAMFORGE_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/camforge/config.json"
			}
			fmt.Fprintf(out, "Config file: %s\n", cfgPath)
			fmt.Fprintf(out, "\nServer:\n")
			fmt.Fprintf(out, "  Listen: %s\n", r.cfg.Server.Listen)
			fmt.Fprintf(out, "\nServices:\n")
			fmt.Fprintf(out, "  Video: %s\n", r.cfg.Services.VideoURL)
			fmt.Fprintf(out, "  Live:  %s\n", r.cfg.Services.LiveURL)
			fmt.Fprintf(out, "\nExport:\n")
			fmt.Fprintf(out, "  Output directory: %s\n", r.cfg.Export.OutputDir)
			fmt.Fprintf(out, "  JPEG quality: %d\n", r.cfg.Export.JPEGQuality)
			fmt.Fprintf(out, "  Normalize tool: %s (fallbacks: %v)\n", r.cfg.Export.NormalizeTool, r.cfg.Export.Fallbacks)
			fmt.Fprintf(out, "\nDefault device:\n")
			fmt.Fprintf(out, "  %s %s  f/%s  %smm\n", r.cfg.Defaults.Make, r.cfg.Defaults.Model, r.cfg.Defaults.Aperture, r.cfg.Defaults.Focal)
			fmt.Fprintf(out, "\nPaths:\n")
			fmt.Fprintf(out, "  Database: %s\n", r.cfg.Paths.DatabasePath)
			fmt.Fprintf(out, "  Temp directory: %s\n", r.cfg.Paths.TempDir)
			fmt.Fprintf(out, "  Watch directory: %s\n", r.cfg.Paths.WatchDir)
			fmt.Fprintf(out, "\nLogging:\n")
			fmt.Fprintf(out, "  Level: %s\n", r.cfg.Logging.Level)
			fmt.Fprintf(out, "  Format: %s\n", r.cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}
