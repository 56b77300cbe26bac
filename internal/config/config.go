// Package config holds the options recognized by the mount façade
// (spec §6.5) and the derived, validated values the rest of the cache
// engine needs (chunk_log, hole-detection mode).
package config

import (
	"fmt"
	"math/bits"
)

// HoleMode selects the hole-detection policy of the cache engine.
type HoleMode int

const (
	// LSEEK queries the kernel hole-map (SEEK_HOLE). Precise, and the
	// default.
	LSEEK HoleMode = iota
	// ALLZERO treats an all-zero read buffer as a hole. Required on
	// filesystems that don't support hole-map queries.
	ALLZERO
)

func (m HoleMode) String() string {
	if m == ALLZERO {
		return "ALLZERO"
	}
	return "LSEEK"
}

// ParseHoleMode parses the hole_mode configuration string.
func ParseHoleMode(s string) (HoleMode, error) {
	switch s {
	case "", "LSEEK":
		return LSEEK, nil
	case "ALLZERO":
		return ALLZERO, nil
	default:
		return 0, fmt.Errorf("unknown hole_mode %q", s)
	}
}

// MaxChunkSize is the clamp named in spec §6.5: chunk_size is clamped
// to at most 4 GiB.
const MaxChunkSize = 1 << 32

// Config is the set of options recognized by the mount façade.
type Config struct {
	Bucket       string
	Key          string
	CachePath    string
	Region       string
	ChunkSize    uint64 // 0 means "use block size"
	HoleMode     HoleMode
	Force        bool
	InitRoot     bool
}

// Validate checks the required fields are present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Key == "" {
		return fmt.Errorf("key is required")
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache path is required")
	}
	if c.ChunkSize > MaxChunkSize {
		c.ChunkSize = MaxChunkSize
	}
	return nil
}

// ChunkLog computes chunk_log = max(block_log, floor(log2(chunk_size))),
// clamped to <= 32, per spec §3 "Chunk". It uses bits.Len rather than a
// float log2, per REDESIGN FLAGS §9: a 32-bit float log2 is imprecise
// near 2^32.
func ChunkLog(blockLog uint, chunkSize uint64) uint {
	log := blockLog
	if chunkSize > 0 {
		// floor(log2(chunkSize)) == position of the highest set bit.
		fl := uint(bits.Len64(chunkSize) - 1)
		if fl > log {
			log = fl
		}
	}
	if log > 32 {
		log = 32
	}
	return log
}
