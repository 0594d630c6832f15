// Package cmd defines the ccextract command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/app"
	"github.com/JakeFAU/ccextract/internal/config"
	"github.com/JakeFAU/ccextract/internal/logging"
)

// session is built once per invocation by the root command's pre-run hook.
type session struct {
	logger *zap.Logger
	app    *app.App
}

type sessionKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ccextract",
		Short: "Extract page text from Common Crawl archives.",
		Long: `ccextract runs a two stage pipeline over a Common Crawl release.
"batch" streams a cluster index, keeps the records in the target language
and publishes them as fixed-size batches to a queue. "work" consumes batches,
fetches the archived responses and writes the extracted text to an object
store. "run" does both in one process.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			s := &session{logger: logger, app: app.New(cfg, logger)}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, s))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newBatchCmd(), newWorkCmd(), newRunCmd())
	return cmd
}

// withSession runs fn with the session built by the pre-run hook and releases
// its clients afterwards, whatever fn returns.
func withSession(cmd *cobra.Command, fn func(s *session) error) error {
	s, ok := cmd.Context().Value(sessionKey{}).(*session)
	if !ok || s == nil {
		return errors.New("application not initialized")
	}
	defer func() {
		if err := s.app.Close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
		_ = s.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
	}()
	return fn(s)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ccextract:", err)
		return 1
	}
	return 0
}
