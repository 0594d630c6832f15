package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCmd() *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Publish filtered index records as batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if indexPath == "" {
				return errors.New("--cluster-idx-filename is required")
			}
			return withSession(cmd, func(s *session) error {
				stats, err := s.app.RunBatch(cmd.Context(), indexPath)
				if err != nil {
					return err
				}
				s.logger.Info("batch command finished", zap.Int("batches", stats.Batches))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&indexPath, "cluster-idx-filename", "", "path to the cluster.idx file of the crawl")
	return cmd
}
