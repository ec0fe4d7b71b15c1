package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"avsync-studio/internal/engine"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var flags exportFlags
	var searchRange float64
	var window float64
	var minConfidence float64

	cmd := &cobra.Command{
		Use:   "sync <video> <audio>",
		Short: "Analyze and export in one step",
		Long:  "Detects the offset between the video and the external audio track, then immediately exports a synchronized output using that offset.",
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

			analyzeJob, err := eng.Analyze(videoPath, audioPath, engine.AnalyzeOptions{
				SearchRangeSeconds:    searchRange,
				AnalysisWindowSeconds: window,
			})
			if err != nil {
				return err
			}
			if _, err := followJob(cmd.Context(), eng, analyzeJob, cmd.ErrOrStderr()); err != nil {
				return err
			}

			result, ok := eng.Result(analyzeJob.ID)
			if !ok {
				return fmt.Errorf("analysis finished without a result")
			}
			fmt.Fprint(cmd.OutOrStdout(), describeResult(result))

			if result.Confidence < minConfidence {
				return fmt.Errorf(
					"confidence %.2f below threshold %.2f; rerun with --min-confidence to override or export manually with --offset",
					result.Confidence, minConfidence)
			}

			outputPath := flags.output
			if outputPath == "" {
				outputPath = defaultOutputPath(settings.OutputDir, videoPath, flags.format)
			}

			exportJob, err := eng.Export(videoPath, audioPath, outputPath, flags.config(result.LagSeconds))
			if err != nil {
				return err
			}
			if _, err := followJob(cmd.Context(), eng, exportJob, cmd.ErrOrStderr()); err != nil {
				return err
			}

			published, ok := eng.Output(exportJob.ID)
			if !ok {
				return fmt.Errorf("export finished without an output path")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", published)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&searchRange, "search-range", 0, "Maximum offset to search in seconds (default from settings)")
	cmd.Flags().Float64Var(&window, "window", 0, "Analysis window length in seconds (default from settings)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.4, "Abort the export below this confidence")

	return cmd
}
