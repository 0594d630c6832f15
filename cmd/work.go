package cmd

import (
	"github.com/spf13/cobra"
)

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Consume batches and store the extracted text",
		Long: `work consumes one batch at a time, acknowledging it only after every
record was processed. Stop it with SIGINT or SIGTERM; the batch in flight is
finished first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				return s.app.RunWork(cmd.Context())
			})
		},
	}
}
