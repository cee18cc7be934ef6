package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"playground-engine/internal/config"
	"playground-engine/internal/errors"
	"playground-engine/internal/logging"
)

// exitError carries a run's exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "playground",
		Short:         "Run code snippets in isolated language runtimes",
		Long:          "playground executes JavaScript, Lua and (simulated or containerized) Python and SQL snippets with a timeout and streams their output.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log engine activity to stderr")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newLanguagesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newServeCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var exit *exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, dimStyle.Render("hint: "+hint))
		}
		os.Exit(1)
	}
}

// setup loads configuration and a logger for a command.
func setup(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return cfg, logging.NewNop(), nil
	}
	return cfg, logging.NewDevelopment(), nil
}
