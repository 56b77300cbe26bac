package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHoleMode(t *testing.T) {
	cases := []struct {
		in      string
		want    HoleMode
		wantErr bool
	}{
		{"", LSEEK, false},
		{"LSEEK", LSEEK, false},
		{"ALLZERO", ALLZERO, false},
		{"bogus", 0, true},
	}
	for _, c := range cases {
		got, err := ParseHoleMode(c.in)
		if c.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestValidateRequiresFields(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg = &Config{Bucket: "b", Key: "k", CachePath: "/tmp/x"}
	require.NoError(t, cfg.Validate())
}

func TestValidateClampsChunkSize(t *testing.T) {
	cfg := &Config{Bucket: "b", Key: "k", CachePath: "/tmp/x", ChunkSize: MaxChunkSize + 1}
	require.NoError(t, cfg.Validate())
	require.EqualValues(t, MaxChunkSize, cfg.ChunkSize)
}

func TestChunkLogUsesBlockLogWhenLarger(t *testing.T) {
	require.EqualValues(t, 17, ChunkLog(17, 0))
	require.EqualValues(t, 17, ChunkLog(17, 1<<10))
}

func TestChunkLogUsesChunkSizeWhenLarger(t *testing.T) {
	require.EqualValues(t, 20, ChunkLog(17, 1<<20))
}

func TestChunkLogClampedTo32(t *testing.T) {
	require.EqualValues(t, 32, ChunkLog(17, 1<<40))
}
