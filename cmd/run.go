package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Batch an index and consume it in the same process",
		Long: `run starts the workers, then batches the index. With queue.driver=memory
the command exits once every batch has been consumed; with a broker it keeps
consuming until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if indexPath == "" {
				return errors.New("--cluster-idx-filename is required")
			}
			return withSession(cmd, func(s *session) error {
				stats, err := s.app.RunAll(cmd.Context(), indexPath)
				if err != nil {
					return err
				}
				s.logger.Info("run command finished", zap.Int("batches", stats.Batches))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&indexPath, "cluster-idx-filename", "", "path to the cluster.idx file of the crawl")
	return cmd
}
