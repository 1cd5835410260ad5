package drill

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/huntline/pkg/logger"
	"github.com/spf13/cobra"
)

// Default drill parameters.
const (
	defaultLanes        = 4
	defaultCheckpoints  = 5
	defaultParticipants = 8
	defaultTimeout      = 30 * time.Second
	defaultDrillTimeout = 10 * time.Minute
)

// NewRootCommand creates the hunt-drill command.
func NewRootCommand() *cobra.Command {
	config := &Config{}
	var (
		format   string
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "hunt-drill",
		Short: "Race scans against a running huntline service",
		Long: `Create a hunt over HTTP, fill its lanes with checkpoints, join several
devices per lane and have them race every scan. The drill fails unless each
lane finishes with exactly one accepted scan per checkpoint.

Example:
  hunt-drill --url http://localhost:9080 --lanes 8 --participants 16`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := logger.InitWithFormat(format, os.Stderr); err != nil {
				return err
			}
			if config.Verbose {
				return logger.SetLevelString("debug")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			stats, err := Run(ctx, config)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "drill passed: %d lanes, %d accepted scans of %d in %s\n",
				stats.LanesCreated, stats.ScansAccepted, stats.ScansSubmitted, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	flags.IntVar(&config.Lanes, "lanes", defaultLanes, "lanes in the drill hunt")
	flags.IntVar(&config.Checkpoints, "checkpoints", defaultCheckpoints, "checkpoints per lane")
	flags.IntVar(&config.Participants, "participants", defaultParticipants, "devices racing on each lane")
	flags.DurationVar(&config.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	flags.DurationVar(&deadline, "deadline", defaultDrillTimeout, "overall drill deadline")
	flags.BoolVarP(&config.Verbose, "verbose", "v", false, "log every checkpoint")
	flags.StringVar(&format, "log-format", "text", "log output format (text|json)")

	return cmd
}
