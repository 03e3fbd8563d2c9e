package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"visitnote/internal/tui"
)

func newLiveCmd(opts *rootOptions) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Talk to the mentor over a live voice session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			// The terminal belongs to the view; logs go to a file or nowhere.
			var logOutput io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer f.Close()
				logOutput = f
			}

			sink := tui.NewSink()
			services, err := opts.build(ctx, sink, logOutput)
			if err != nil {
				return err
			}
			defer sink.Close()
			defer services.Live.HangUp()

			program := tea.NewProgram(
				tui.New(ctx, services.Live, sink.Updates()),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logFile, "log-file", "", "Append logs to this file while the view is open")
	return cmd
}
