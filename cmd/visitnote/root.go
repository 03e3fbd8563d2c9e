package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"visitnote/internal/bootstrap"
	"visitnote/internal/ports"
)

type rootOptions struct {
	configPath  string
	metricsAddr string
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "visitnote",
		Short: "Home-visit nursing records from recordings and notes",
		Long: `visitnote turns a recorded home visit and/or a free-text note into a SOAP note,
care plan, summary and threat tier, and opens a live voice channel to the same model.`,
		SilenceUsage: true,
		Version:      version,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file (default $VISITNOTE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Abort model requests after this long (0 disables)")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newSupplementCmd(opts),
		newLiveCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

// build assembles the services and starts the metrics listener when one is configured.
func (o *rootOptions) build(ctx context.Context, events ports.EventSink, logOutput io.Writer) (bootstrap.Services, error) {
	services, err := bootstrap.Build(bootstrap.Options{
		ConfigPath: o.configPath,
		Events:     events,
		LogOutput:  logOutput,
	})
	if err != nil {
		return bootstrap.Services{}, err
	}

	addr := strings.TrimSpace(o.metricsAddr)
	if addr == "" {
		addr = services.Config.Metrics.Address
	}
	if addr != "" {
		go func() {
			if err := services.Metrics.Serve(ctx, addr, services.Logger); err != nil {
				services.Logger.Error("Metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}
	return services, nil
}

// signalContext cancels on interrupt.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// requestContext bounds a single model request by --timeout.
func (o *rootOptions) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
