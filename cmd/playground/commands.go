package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
	"playground-engine/internal/history"
	"playground-engine/internal/language"
	"playground-engine/internal/server"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a source file and stream its output",
		Long:  "Execute a source file. The language is inferred from the file extension unless --language is given. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("language")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			memory, _ := cmd.Flags().GetInt64("memory")
			record, _ := cmd.Flags().GetBool("record")

			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			source, err := readSource(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			engines, err := server.NewEngines(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer engines.Close()

			if lang == "" {
				lang, err = inferLanguage(engines.Registry, args[0])
				if err != nil {
					return err
				}
			}

			if record {
				store, err := history.NewSQLiteStore(cfg.History.DBPath)
				if err != nil {
					return err
				}
				defer store.Close()
				engines.WithObserver(history.NewRecorder(store, logger))
			}

			run, err := engines.New().Execute(ctx, engine.Request{
				Language:      lang,
				Source:        source,
				Timeout:       timeout,
				MemoryLimitMB: memory,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = run.Stream(ctx, func(event engine.OutputEvent) error {
				_, err := fmt.Fprintln(out, renderEvent(event))
				return err
			})
			if err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			// Interrupted: the run is stopping because ctx is done.
			<-run.Done()

			summary := run.Summary()
			fmt.Fprintln(out, renderSummary(summary))
			if summary.ExitCode != engine.ExitSuccess {
				return &exitError{code: summary.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().StringP("language", "l", "", "Language name or alias (default: inferred from extension)")
	cmd.Flags().DurationP("timeout", "t", 0, "Wall-clock limit (default: the language's)")
	cmd.Flags().Int64P("memory", "m", 0, "Advisory memory budget in MB (default: the language's)")
	cmd.Flags().Bool("record", false, "Save the run to the history database")
	return cmd
}

func newLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List executable languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			engines, err := server.NewEngines(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer engines.Close()

			fmt.Fprintln(cmd.OutOrStdout(), renderLanguages(engines.New().Languages()))
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run's transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := history.NewSQLiteStore(cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, titleStyle.Render(rec.RunID))
				fmt.Fprintln(out, engine.Transcript(rec.Events))
				fmt.Fprintln(out, renderSummary(&rec.Summary))
				return nil
			}

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderHistory(records))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			srv, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			runErr := srv.Run(cmd.Context())
			if err := srv.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func readSource(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return string(data), nil
}

// inferLanguage resolves a file extension through the registry's names and
// aliases.
func inferLanguage(registry *language.Registry, path string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", errors.WithHint(
			errors.Newf("cannot infer language of %s", path),
			"pass --language",
		)
	}
	spec, err := registry.Resolve(ext)
	if err != nil {
		return "", errors.WithHintf(err, "no language registered for .%s files; pass --language", ext)
	}
	return spec.Name, nil
}
