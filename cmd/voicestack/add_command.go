package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zipties/voicestack2/internal/config"
	"github.com/Zipties/voicestack2/internal/store"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var language string
	var model string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Enqueue media files for transcription",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if trimmed := strings.TrimSpace(language); trimmed != "" {
				params["language"] = trimmed
			}
			if trimmed := strings.TrimSpace(model); trimmed != "" {
				params["model"] = trimmed
			}

			return ctx.withStore(func(st *store.Store) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return fmt.Errorf("resolve %q: %w", arg, err)
					}
					info, err := os.Stat(path)
					if err != nil {
						return fmt.Errorf("stat %q: %w", arg, err)
					}
					if info.IsDir() {
						return fmt.Errorf("%q is a directory", arg)
					}

					job, err := st.NewJob(cmd.Context(), path, params)
					if err != nil {
						return fmt.Errorf("enqueue %q: %w", arg, err)
					}
					fmt.Fprintf(out, "Queued %s as job %s\n", path, job.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Override language detection (e.g. en, de)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the recognition model for this job")
	return cmd
}
