package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"avsync-studio/internal/domain"
)

// exportFlags binds the export configuration knobs shared by the
// export and sync commands.
type exportFlags struct {
	output       string
	format       string
	resolution   string
	preset       string
	videoBitrate string
	audioBitrate string
	mix          bool
}

func (f *exportFlags) register(cmd *cobra.Command) {
	defaults := domain.DefaultExportConfig()
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file path (default derived from the video name)")
	cmd.Flags().StringVar(&f.format, "format", defaults.Format, "Output container (mp4, avi, mov, mkv)")
	cmd.Flags().StringVar(&f.resolution, "resolution", defaults.Resolution, "Target resolution or 'original' for stream copy")
	cmd.Flags().StringVar(&f.preset, "preset", defaults.Preset, "x264 encoding preset")
	cmd.Flags().StringVar(&f.videoBitrate, "video-bitrate", defaults.VideoBitrate, "Video bitrate, e.g. 8M")
	cmd.Flags().StringVar(&f.audioBitrate, "audio-bitrate", defaults.AudioBitrate, "Audio bitrate, e.g. 192k")
	cmd.Flags().BoolVar(&f.mix, "mix", false, "Mix the original audio under the external track instead of replacing it")
}

func (f *exportFlags) config(offsetSeconds float64) domain.ExportConfig {
	cfg := domain.DefaultExportConfig()
	cfg.Format = f.format
	cfg.Resolution = f.resolution
	cfg.Preset = f.preset
	cfg.VideoBitrate = f.videoBitrate
	cfg.AudioBitrate = f.audioBitrate
	cfg.OffsetSeconds = offsetSeconds
	if f.mix {
		cfg.AudioMode = domain.AudioModeMixBoth
	}
	return cfg
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags exportFlags
	var offset float64

	cmd := &cobra.Command{
		Use:   "export <video> <audio>",
		Short: "Mux a synchronized output using a known offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoPath, audioPath := args[0], args[1]
			if err := resolveInputs(videoPath, audioPath); err != nil {
				return err
			}

			eng, settings, err := ctx.newEngine()
			if err != nil {
				return err
			}

			outputPath := flags.output
			if outputPath == "" {
				outputPath = defaultOutputPath(settings.OutputDir, videoPath, flags.format)
			}

			job, err := eng.Export(videoPath, audioPath, outputPath, flags.config(offset))
			if err != nil {
				return err
			}
			if _, err := followJob(cmd.Context(), eng, job, cmd.ErrOrStderr()); err != nil {
				return err
			}

			published, ok := eng.Output(job.ID)
			if !ok {
				return fmt.Errorf("export finished without an output path")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", published)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&offset, "offset", 0, "Offset in seconds; positive trims the external audio, negative delays it")

	return cmd
}
