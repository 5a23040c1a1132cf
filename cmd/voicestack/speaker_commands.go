package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zipties/voicestack2/internal/store"
)

func newSpeakersCommand(ctx *commandContext) *cobra.Command {
	speakersCmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage the speaker registry",
	}

	speakersCmd.AddCommand(newSpeakersListCommand(ctx))
	speakersCmd.AddCommand(newSpeakersRenameCommand(ctx))
	speakersCmd.AddCommand(newSpeakersMergeCommand(ctx))

	return speakersCmd
}

func newSpeakersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known speakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				speakers, err := st.ListSpeakers(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(speakers) == 0 {
					fmt.Fprintln(out, "No speakers enrolled")
					return nil
				}

				rows := make([][]string, 0, len(speakers))
				for _, speaker := range speakers {
					confidence := "-"
					if speaker.MatchConfidence != nil {
						confidence = fmt.Sprintf("%.3f", *speaker.MatchConfidence)
					}
					rows = append(rows, []string{
						speaker.ID,
						speaker.Name,
						yesNo(speaker.Trusted),
						confidence,
						speaker.CreatedAt.Local().Format(time.DateOnly),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Name", "Trusted", "Confidence", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newSpeakersRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <speaker-id> <name>",
		Short: "Assign a human-curated name to a speaker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.RenameSpeaker(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed speaker %s to %q\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newSpeakersMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target-id> <source-id>",
		Short: "Merge one speaker into another",
		Long: "Moves the source speaker's embeddings and segment attributions onto " +
			"the target speaker, then deletes the source. Use when the same voice " +
			"was enrolled twice.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.MergeSpeakers(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged speaker %s into %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
