package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"avsync-studio/internal/engine"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var searchRange float64
	var window float64
	var workers int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <video> <audio>",
		Short: "Detect the offset between a video and an external audio track",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoPath, audioPath := args[0], args[1]
			if err := resolveInputs(videoPath, audioPath); err != nil {
				return err
			}

			eng, _, err := ctx.newEngine()
			if err != nil {
				return err
			}

			job, err := eng.Analyze(videoPath, audioPath, engine.AnalyzeOptions{
				SearchRangeSeconds:    searchRange,
				AnalysisWindowSeconds: window,
				Workers:               workers,
			})
			if err != nil {
				return err
			}

			if _, err := followJob(cmd.Context(), eng, job, cmd.ErrOrStderr()); err != nil {
				return err
			}

			result, ok := eng.Result(job.ID)
			if !ok {
				return fmt.Errorf("analysis finished without a result")
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprint(cmd.OutOrStdout(), describeResult(result))
			return nil
		},
	}

	cmd.Flags().Float64Var(&searchRange, "search-range", 0, "Maximum offset to search in seconds (default from settings)")
	cmd.Flags().Float64Var(&window, "window", 0, "Analysis window length in seconds (default from settings)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Goroutines for the lag scan (default one per CPU)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result as JSON")

	return cmd
}
