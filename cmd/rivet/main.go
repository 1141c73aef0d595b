package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/rivetlabs/rivet/attachment"
	"github.com/rivetlabs/rivet/geometry"
	"github.com/rivetlabs/rivet/internal/config"
	"github.com/rivetlabs/rivet/internal/queue"
	"github.com/rivetlabs/rivet/interpolation"
	"github.com/rivetlabs/rivet/processor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rivet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rivet",
		Short: "rivet attachment toolbox",
		Long: `rivet inspects geometry specs, expands path templates, generates single
thumbnails and queues variant reprocessing against a running stack.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newGeometryCmd(),
		newInterpolateCmd(),
		newThumbnailCmd(),
		newReprocessCmd(),
	)
	return cmd
}

func newGeometryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Parse and inspect geometry specs",
	}
	cmd.AddCommand(newGeometryParseCmd(), newGeometryInspectCmd(), newGeometryFitCmd())
	return cmd
}

func newGeometryParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <spec>",
		Short: "Parse a geometry spec like 100x100#",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := geometry.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "width=%g height=%g crop=%v\n", g.Width, g.Height, g.Crop())
			return nil
		},
	}
}

func newGeometryInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Read pixel dimensions from a file via identify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := geometry.FromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), g.String())
			return nil
		},
	}
}

func newGeometryFitCmd() *cobra.Command {
	var crop bool
	cmd := &cobra.Command{
		Use:   "fit <sourceWxH> <targetSpec>",
		Short: "Show the resize/crop arguments for a transformation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := geometry.Parse(args[0])
			if err != nil {
				return err
			}
			target, err := geometry.Parse(args[1])
			if err != nil {
				return err
			}
			scale, cropArg, err := src.Transformation(target, crop || target.Crop())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "-resize %s", scale)
			if cropArg != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " -crop %s +repage", cropArg)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&crop, "crop", false, "Force cover-and-crop semantics")
	return cmd
}

func newInterpolateCmd() *cobra.Command {
	var (
		class    string
		id       string
		name     string
		filename string
		style    string
	)
	cmd := &cobra.Command{
		Use:   "interpolate <template>",
		Short: "Expand a path template with sample values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := interpolation.New().Expand(args[0], sampleAttachment{
				name: name, id: id, class: class, filename: filename, style: style,
			}, style)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "Photo", "Record class name")
	cmd.Flags().StringVar(&id, "id", "42", "Record id")
	cmd.Flags().StringVar(&name, "name", "image", "Attachment name")
	cmd.Flags().StringVar(&filename, "filename", "portrait.jpg", "Original filename")
	cmd.Flags().StringVar(&style, "style", attachment.OriginalStyle, "Style name")
	return cmd
}

type sampleAttachment struct {
	name, id, class, filename, style string
}

func (s sampleAttachment) Name() string             { return s.name }
func (s sampleAttachment) RecordID() string         { return s.id }
func (s sampleAttachment) RecordClass() string      { return s.class }
func (s sampleAttachment) OriginalFilename() string { return s.filename }
func (s sampleAttachment) UpdatedAt() time.Time     { return time.Now().UTC() }
func (s sampleAttachment) DefaultStyle() string     { return s.style }

func newThumbnailCmd() *cobra.Command {
	var (
		out     string
		options string
	)
	cmd := &cobra.Command{
		Use:   "thumbnail <source> <geometry>",
		Short: "Generate one variant from a source file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			th, err := processor.NewThumbnail(src, processor.Options{
				Geometry:       args[1],
				ConvertOptions: options,
				Whiny:          true,
				Attachment:     "cli",
			})
			if err != nil {
				return err
			}
			variant, err := th.Make(cmd.Context())
			if err != nil {
				return err
			}
			defer variant.Close()
			defer os.Remove(variant.Name())
			if out == "" {
				out = "thumb_" + args[0]
			}
			data, err := os.ReadFile(variant.Name())
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path")
	cmd.Flags().StringVar(&options, "convert-options", "", "Extra convert arguments")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <photo-id>",
		Short: "Queue variant regeneration for a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			if err := queue.EnqueueReprocess(cmd.Context(), client, queue.ReprocessPayload{PhotoID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued reprocess for %s\n", args[0])
			return nil
		},
	}
}
