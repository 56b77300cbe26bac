package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazysquash/lazysquash/internal/archive"
	"github.com/lazysquash/lazysquash/internal/remote"
)

func newInstallCmd() *cobra.Command {
	var bucket, key, region string

	cmd := &cobra.Command{
		Use:   "install LOCAL-ARCHIVE",
		Short: "Publish a local SquashFS archive to S3 with its superblock as object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args[0], bucket, key, region)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination S3 bucket (required)")
	cmd.Flags().StringVar(&key, "key", "", "destination S3 object key (required)")
	cmd.Flags().StringVar(&region, "region", "", "AWS region (defaults to the SDK's resolved region)")
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("key")
	return cmd
}

func runInstall(cmd *cobra.Command, localPath, bucket, key, region string) error {
	entry := log.WithField("local", localPath)
	rem, err := remote.New(cmd.Context(), region, bucket, key, entry)
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := rem.Install(cmd.Context(), localPath, archive.SuperblockSize); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s to s3://%s/%s\n", localPath, bucket, key)
	return nil
}
