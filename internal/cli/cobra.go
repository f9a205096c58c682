package cli

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"camforge/internal/export"
	"camforge/internal/photo"
	"camforge/internal/preset"
	"camforge/internal/server"
	"camforge/internal/session"
	"camforge/internal/storage"
	"camforge/internal/watch"
)

// NewRootCmd builds the camforge command tree.
func (r *Root) NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camforge",
		Short: "camforge disguises exports as flagship camera output",
		Long: `camforge rewrites the capture metadata of photos, videos and live pairs so
they present as straight-off-the-camera output of a chosen device.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(r.newPhotoCmd())
	rootCmd.AddCommand(r.newVideoCmd())
	rootCmd.AddCommand(r.newLiveCmd())
	rootCmd.AddCommand(r.newPresetsCmd())
	rootCmd.AddCommand(r.newServeCmd())
	rootCmd.AddCommand(r.newWatchCmd())
	rootCmd.AddCommand(r.newInspectCmd())
	rootCmd.AddCommand(r.newConfigCmd())
	rootCmd.AddCommand(r.newVersionCmd())

	return rootCmd
}

func addMetaFlags(cmd *cobra.Command, f *metaFlags, withOptics bool) {
	cmd.Flags().StringVar(&f.device, "device", "", "device preset name (see camforge presets)")
	cmd.Flags().StringVar(&f.make_, "make", "", "camera make override")
	cmd.Flags().StringVar(&f.model, "model", "", "camera model override")
	cmd.Flags().StringVar(&f.date, "date", "", "capture time, 2006-01-02T15:04")
	if withOptics {
		cmd.Flags().StringVar(&f.resolution, "resolution", "", "resolution preset name")
		cmd.Flags().StringVar(&f.aperture, "aperture", "", "aperture f-number override")
		cmd.Flags().StringVar(&f.focal, "focal", "", "focal length (mm) override")
		cmd.Flags().StringVar(&f.focal35, "focal35", "", "35mm-equivalent focal length override")
		cmd.Flags().StringVar(&f.iso, "iso", "", "ISO override")
		cmd.Flags().StringVar(&f.width, "width", "", "pixel width override")
		cmd.Flags().StringVar(&f.height, "height", "", "pixel height override")
	}
}

func (r *Root) newPhotoCmd() *cobra.Command {
	var (
		flags  metaFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "photo <image>",
		Short: "Forge a single still image",
		Long: `Normalize the image (strip metadata, flatten transparency), embed the forged
capture metadata and write the artifact to the output directory.

Examples:
  camforge photo shot.png --device "iPhone 17 Pro Max"
  camforge photo shot.jpg --model "Mate 70 Pro" --make HUAWEI --iso 320`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess := session.New(newID("sess"), r.defaultFields())
			if err := flags.apply(sess); err != nil {
				return err
			}
			if err := r.attachImage(ctx, sess, args[0]); err != nil {
				return err
			}
			return r.runExport(ctx, cmd.OutOrStdout(), sess, output)
		},
	}

	addMetaFlags(cmd, &flags, true)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	return cmd
}

func (r *Root) newVideoCmd() *cobra.Command {
	var (
		flags  metaFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "video <video>",
		Short: "Forge a video clip via the video service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess := session.New(newID("sess"), r.defaultFields())
			sess.SetMode(session.ModeVideo)
			if err := flags.apply(sess); err != nil {
				return err
			}
			if err := r.attachVideo(sess, args[0]); err != nil {
				return err
			}
			return r.runExport(ctx, cmd.OutOrStdout(), sess, output)
		},
	}

	addMetaFlags(cmd, &flags, false)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	return cmd
}

func (r *Root) newLiveCmd() *cobra.Command {
	var (
		flags  metaFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "live <photo> <video>",
		Short: "Forge a live pair via the live service",
		Long: `Send a photo and its paired video to the live service. A fresh asset id ties
the pair together; the artifact is a zip of both members.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess := session.New(newID("sess"), r.defaultFields())
			sess.SetMode(session.ModeLive)
			if err := flags.apply(sess); err != nil {
				return err
			}
			if err := r.attachLivePhoto(sess, args[0]); err != nil {
				return err
			}
			if err := r.attachVideo(sess, args[1]); err != nil {
				return err
			}
			return r.runExport(ctx, cmd.OutOrStdout(), sess, output)
		},
	}

	addMetaFlags(cmd, &flags, true)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	return cmd
}

func (r *Root) newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List device and resolution presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Devices:")
			for _, d := range preset.Devices() {
				fmt.Fprintf(out, "  %-22s %s %s  f/%g  %gmm\n", d.Name, d.Make, d.Model, d.Aperture, d.FocalMm)
			}
			fmt.Fprintln(out, "\nResolutions:")
			for _, res := range preset.Resolutions() {
				fmt.Fprintf(out, "  %-22s %dx%d\n", res.Name, res.Width, res.Height)
			}
			return nil
		},
	}
}

func (r *Root) newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr != "" {
				r.cfg.Server.Listen = addr
			}

			store, err := storage.New(r.cfg.Paths.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			normalizer := r.newNormalizer(r.cfg.Export)
			if len(normalizer.DetectAvailable(r.log)) == 0 {
				return fmt.Errorf("no normalize tool available")
			}
			client := r.newDispatcher(r.cfg.Services, r.log)
			runner := export.New(ctx, export.NewRouter(r.log, client, r.cfg.Export.OutputDir), r.log, store)
			defer runner.Stop()

			srv := server.NewServer(r.cfg, store, runner, normalizer, r.log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func (r *Root) newWatchCmd() *cobra.Command {
	var dir, output string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Auto-forge stills dropped into a directory",
		Long: `Watch a directory and forge every still that appears in it using the
configured default device, writing artifacts to the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if dir == "" {
				dir = r.cfg.Paths.WatchDir
			}
			if dir == "" {
				return fmt.Errorf("no watch directory configured; pass --dir or set paths.watch_dir")
			}
			if output == "" {
				output = r.cfg.Export.OutputDir
			}

			w, err := watch.New(dir, output, r.newNormalizer(r.cfg.Export), r.watchDefaults(), r.log)
			if err != nil {
				return err
			}

			go func() {
				for res := range w.Results() {
					if res.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Source, res.Err)
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), res.Artifact)
				}
			}()

			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	return cmd
}

func (r *Root) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "camforge v1.0.0\n")
			fmt.Fprintf(out, "Built with Go %s\n", runtime.Version())
			fmt.Fprintf(out, "Normalize tools: %v\n", photo.NewManager(r.cfg.Export).DetectAvailable(r.log))
		},
	}
}

// Execute runs the command tree with ctx.
func (r *Root) Execute(ctx context.Context, args []string) error {
	cmd := r.NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
