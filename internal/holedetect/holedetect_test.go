package holedetect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazysquash/lazysquash/internal/config"
)

type fakeSeeker struct {
	hole int64
	err  error
}

func (f fakeSeeker) SeekHole(offset int64) (int64, error) { return f.hole, f.err }

func TestLSEEKDetectorHoleWithinRange(t *testing.T) {
	d := New(config.LSEEK, fakeSeeker{hole: 50})
	v, err := d.Classify(40, make([]byte, 20)) // [40,60)
	require.NoError(t, err)
	require.True(t, v.Hole)
	require.EqualValues(t, 50, v.Start)
}

func TestLSEEKDetectorNoHole(t *testing.T) {
	d := New(config.LSEEK, fakeSeeker{hole: 1000})
	v, err := d.Classify(40, make([]byte, 20))
	require.NoError(t, err)
	require.False(t, v.Hole)
}

func TestLSEEKDetectorHoleEnd(t *testing.T) {
	d := New(config.LSEEK, fakeSeeker{hole: holeEnd})
	v, err := d.Classify(40, make([]byte, 20))
	require.NoError(t, err)
	require.False(t, v.Hole)
}

func TestAllZeroDetectorAllZero(t *testing.T) {
	d := New(config.ALLZERO, nil)
	v, err := d.Classify(10, make([]byte, 4096))
	require.NoError(t, err)
	require.True(t, v.Hole)
	require.EqualValues(t, 10, v.Start)
}

func TestAllZeroDetectorNotZero(t *testing.T) {
	d := New(config.ALLZERO, nil)
	buf := make([]byte, 4096)
	buf[4095] = 1
	v, err := d.Classify(10, buf)
	require.NoError(t, err)
	require.False(t, v.Hole)
}
