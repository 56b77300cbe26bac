package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lazysquash/lazysquash/internal/archive"
)

func newListCmd() *cobra.Command {
	var af archiveFlags

	cmd := &cobra.Command{
		Use:   "list [PATH]",
		Short: "List the entries of a directory inside the archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			return runList(cmd, &af, p)
		},
	}
	af.register(cmd.Flags())
	requireArchiveFlags(cmd)
	return cmd
}

func runList(cmd *cobra.Command, af *archiveFlags, p string) error {
	cfg, err := af.toConfig()
	if err != nil {
		return err
	}

	ar, err := archive.Bootstrap(cmd.Context(), cfg, log.WithField("path", p))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer ar.Close()

	entries, err := ar.ReadDir(cmd.Context(), p)
	if err != nil {
		return fmt.Errorf("readdir %s: %w", p, err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tSIZE\tNAME")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.Stat.Mode, e.Stat.Size, e.Name)
	}
	return w.Flush()
}
