package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/moby/sys/mountinfo"
	"github.com/spf13/cobra"

	"github.com/lazysquash/lazysquash/internal/archive"
	"github.com/lazysquash/lazysquash/internal/fsnode"
)

func newMountCmd() *cobra.Command {
	var af archiveFlags
	var debug bool
	var allowOther bool
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount the archive read-only at MOUNTPOINT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, args[0], &af, debug, allowOther, ttl)
		},
	}
	af.register(cmd.Flags())
	requireArchiveFlags(cmd)
	cmd.Flags().BoolVar(&debug, "debug", false, "print FUSE protocol debugging messages")
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "mount with -o allow_other")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Second, "attribute/entry cache TTL")
	return cmd
}

func runMount(cmd *cobra.Command, mountpoint string, af *archiveFlags, debug, allowOther bool, ttl time.Duration) error {
	cfg, err := af.toConfig()
	if err != nil {
		return err
	}

	// Refuse to bootstrap onto an already-mounted target: spec's
	// Non-goals exclude concurrent unlocked mounts, and a second mount
	// attempt on top of a live one is exactly that case.
	already, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		return fmt.Errorf("checking mount status of %s: %w", mountpoint, err)
	}
	if already {
		return fmt.Errorf("%s is already mounted", mountpoint)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	entry := log.WithField("mountpoint", mountpoint)
	ar, err := archive.Bootstrap(ctx, cfg, entry)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer ar.Close()

	root := fsnode.Root(ar)
	opts := &fs.Options{
		EntryTimeout: &ttl,
		AttrTimeout:  &ttl,
	}
	opts.Debug = debug
	opts.AllowOther = allowOther

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		entry.Info("received shutdown signal, unmounting")
		server.Unmount()
	}()

	entry.Info("mounted")
	server.Wait()
	return nil
}
