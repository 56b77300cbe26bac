package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lazysquash/lazysquash/internal/config"
)

// archiveFlags holds the raw flag values shared by every verb that
// needs to address a remote archive and its local cache file, per
// spec §6.5.
type archiveFlags struct {
	bucket    string
	key       string
	cache     string
	region    string
	chunkSize uint64
	holeMode  string
	force     bool
	initRoot  bool
}

func (f *archiveFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.bucket, "bucket", "", "S3 bucket holding the archive (required)")
	flags.StringVar(&f.key, "key", "", "S3 object key of the archive (required)")
	flags.StringVar(&f.cache, "cache", "", "path to the local sparse cache file (required)")
	flags.StringVar(&f.region, "region", "", "AWS region (defaults to the SDK's resolved region)")
	flags.Uint64Var(&f.chunkSize, "chunk-size", 0, "fetch chunk size in bytes, clamped to 4 GiB (default: archive block size)")
	flags.StringVar(&f.holeMode, "hole-mode", "LSEEK", "hole-detection policy: LSEEK or ALLZERO")
	flags.BoolVar(&f.force, "force", false, "rebuild the cache file even if one already exists at --cache")
	flags.BoolVar(&f.initRoot, "init-root", false, "list the root directory during bootstrap (nothing below it is walked or cached)")
}

func (f *archiveFlags) toConfig() (*config.Config, error) {
	mode, err := config.ParseHoleMode(f.holeMode)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Bucket:    f.bucket,
		Key:       f.key,
		CachePath: f.cache,
		Region:    f.region,
		ChunkSize: f.chunkSize,
		HoleMode:  mode,
		Force:     f.force,
		InitRoot:  f.initRoot,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireArchiveFlags(cmd *cobra.Command) {
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("cache")
}
