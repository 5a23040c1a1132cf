package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zipties/voicestack2/internal/store"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and update persisted engine settings",
		Long: "Persisted settings override the configuration file for new jobs " +
			"without restarting the daemon. Unset values fall back to the config.",
	}

	settingsCmd.AddCommand(newSettingsShowCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))

	return settingsCmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show persisted settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				settings, err := st.GetSettings(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if settings == nil {
					fmt.Fprintln(out, "No persisted settings; configuration file values apply")
					return nil
				}

				rows := [][]string{
					{"whisper_model", orDefault(settings.WhisperModel)},
					{"compute_type", orDefault(settings.ComputeType)},
					{"hf_token", maskSecret(settings.HFToken)},
					{"match_threshold", formatThreshold(settings.MatchThreshold)},
					{"min_turn_seconds", formatThreshold(settings.MinTurnSeconds)},
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Setting", "Value"},
					rows,
					[]columnAlignment{alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var whisperModel string
	var computeType string
	var hfToken string
	var matchThreshold float64
	var minTurnSeconds float64

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Persist engine settings for future jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				settings, err := st.GetSettings(cmd.Context())
				if err != nil {
					return err
				}
				if settings == nil {
					settings = &store.Settings{}
				}

				changed := false
				if cmd.Flags().Changed("whisper-model") {
					settings.WhisperModel = strings.TrimSpace(whisperModel)
					changed = true
				}
				if cmd.Flags().Changed("compute-type") {
					settings.ComputeType = strings.TrimSpace(computeType)
					changed = true
				}
				if cmd.Flags().Changed("hf-token") {
					settings.HFToken = strings.TrimSpace(hfToken)
					changed = true
				}
				if cmd.Flags().Changed("match-threshold") {
					settings.MatchThreshold = matchThreshold
					changed = true
				}
				if cmd.Flags().Changed("min-turn-seconds") {
					settings.MinTurnSeconds = minTurnSeconds
					changed = true
				}
				if !changed {
					return fmt.Errorf("no settings provided; see --help for available flags")
				}

				if err := st.SaveSettings(cmd.Context(), *settings); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Settings saved; new jobs pick them up automatically")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&whisperModel, "whisper-model", "", "Recognition model name")
	cmd.Flags().StringVar(&computeType, "compute-type", "", "Recognition compute type (float16, float32, int8)")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token for diarization")
	cmd.Flags().Float64Var(&matchThreshold, "match-threshold", 0, "Minimum cosine similarity for speaker matching")
	cmd.Flags().Float64Var(&minTurnSeconds, "min-turn-seconds", 0, "Shortest diarization turn considered for identity")
	return cmd
}

func orDefault(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(config default)"
	}
	return value
}

func maskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}
	return "****"
}

func formatThreshold(value float64) string {
	if value == 0 {
		return "(config default)"
	}
	return fmt.Sprintf("%.3f", value)
}
