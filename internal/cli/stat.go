package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazysquash/lazysquash/internal/archive"
)

func newStatCmd() *cobra.Command {
	var af archiveFlags

	cmd := &cobra.Command{
		Use:   "stat PATH",
		Short: "Print the translated POSIX stat of an archive entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(cmd, &af, args[0])
		},
	}
	af.register(cmd.Flags())
	requireArchiveFlags(cmd)
	return cmd
}

func runStat(cmd *cobra.Command, af *archiveFlags, p string) error {
	cfg, err := af.toConfig()
	if err != nil {
		return err
	}

	ar, err := archive.Bootstrap(cmd.Context(), cfg, log.WithField("path", p))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer ar.Close()

	st, err := ar.Stat(cmd.Context(), p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  File: %s\n", p)
	fmt.Fprintf(out, "  Size: %-10d Blocks: %-10d IO Block: %d\n", st.Size, st.Blocks, st.Blksize)
	fmt.Fprintf(out, "  Mode: (%s)\n", st.Mode)
	fmt.Fprintf(out, "  Nlink: %d Uid: %d Gid: %d\n", st.Nlink, st.Uid, st.Gid)
	fmt.Fprintf(out, "Modify: %s\n", st.ModTime)
	return nil
}
