package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zipties/voicestack2/internal/store"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var withSegments bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Job:      %s\n", job.ID)
				fmt.Fprintf(out, "Status:   %s (%d%%)\n", colorStatus(string(job.Status), colorize), job.Progress)
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
				}
				if job.LogPath != "" {
					fmt.Fprintf(out, "Log:      %s\n", job.LogPath)
				}

				asset, err := st.GetAssetByJob(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if asset == nil {
					return nil
				}
				fmt.Fprintf(out, "Source:   %s\n", asset.SourcePath)
				if asset.Duration > 0 {
					fmt.Fprintf(out, "Duration: %.1fs\n", asset.Duration)
				}
				if asset.ArchivalPath != "" {
					fmt.Fprintf(out, "Archive:  %s\n", asset.ArchivalPath)
				}

				transcript, err := st.GetTranscriptByAsset(cmd.Context(), asset.ID)
				if err != nil {
					return err
				}
				if transcript == nil {
					return nil
				}
				if transcript.Title != "" {
					fmt.Fprintf(out, "Title:    %s\n", transcript.Title)
				}
				if transcript.Summary != "" {
					fmt.Fprintf(out, "Summary:  %s\n", transcript.Summary)
				}
				tags, err := st.ListTags(cmd.Context(), transcript.ID)
				if err != nil {
					return err
				}
				if len(tags) > 0 {
					names := make([]string, 0, len(tags))
					for _, tag := range tags {
						names = append(names, tag.Tag)
					}
					fmt.Fprintf(out, "Tags:     %s\n", strings.Join(names, ", "))
				}

				if !withSegments {
					fmt.Fprintln(out)
					fmt.Fprintln(out, transcript.RawText)
					return nil
				}

				segments, err := st.ListSegments(cmd.Context(), transcript.ID)
				if err != nil {
					return err
				}
				speakerNames, err := speakerNameIndex(cmd, st)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				for _, segment := range segments {
					name := speakerNames[segment.SpeakerID]
					if name == "" {
						name = "Unknown"
					}
					fmt.Fprintf(out, "[%8.2f - %8.2f] %s: %s\n", segment.Start, segment.End, name, segment.Text)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withSegments, "segments", false, "Print timed segments with speaker attribution")
	return cmd
}

func speakerNameIndex(cmd *cobra.Command, st *store.Store) (map[string]string, error) {
	speakers, err := st.ListSpeakers(cmd.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(speakers))
	for _, speaker := range speakers {
		names[speaker.ID] = speaker.Name
	}
	return names, nil
}
