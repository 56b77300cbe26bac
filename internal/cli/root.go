// Package cli wires the lazy-materialization cache engine into the
// spf13/cobra command surface (spec §6.5 configuration options, §10
// CLI verbs), the way dsmmcken-dh-cli's internal/cmd package builds
// its root command plus per-verb subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is overridden at link time via -ldflags.
var Version = "dev"

var (
	logLevelFlag string
	log          = logrus.New()
)

// NewRootCmd builds the lazysquash root command and all its verbs.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lazysquash",
		Short:         "Expose a remote SquashFS archive as a lazily-materialized local filesystem",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevelFlag)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.SetLevel(level)
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return nil
		},
	}
	root.SetVersionTemplate("lazysquash {{.Version}}\n")

	pflags := root.PersistentFlags()
	pflags.StringVar(&logLevelFlag, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newMountCmd())
	root.AddCommand(newInstallCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newStatCmd())

	return root
}

// Execute runs the root command, writing any error to stderr.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lazysquash: %v\n", err)
		return 1
	}
	return 0
}
