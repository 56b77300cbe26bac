package fetch

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type fakeRanger struct {
	lastStart, lastEnd int64
	data               []byte
}

func (f *fakeRanger) GetRange(ctx context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	f.lastStart, f.lastEnd = start, endInclusive
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type fakeStore struct {
	writes map[int64][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{writes: map[int64][]byte{}} }

func (f *fakeStore) WriteAt(buf []byte, offset int64) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.writes[offset] = cp
	return len(buf), nil
}

func (f *fakeStore) Sync() error { return nil }

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func noopLocker(ctx context.Context, timeout time.Duration) (io.Closer, error) {
	return noopCloser{}, nil
}

func TestAlignedWindowWithinOneChunk(t *testing.T) {
	f := New(nil, nil, nil, 16, 1<<20, testLog()) // chunk = 65536
	start, end := f.AlignedWindow(0, 10)
	require.EqualValues(t, 0, start)
	require.EqualValues(t, 65536, end)
}

func TestAlignedWindowSpansTwoChunks(t *testing.T) {
	f := New(nil, nil, nil, 16, 1<<20, testLog()) // chunk = 65536
	start, end := f.AlignedWindow(60000, 20000)
	require.EqualValues(t, 0, start)
	require.EqualValues(t, 131072, end)
}

func TestAlignedWindowClippedToArchiveLength(t *testing.T) {
	f := New(nil, nil, nil, 16, 70000, testLog())
	start, end := f.AlignedWindow(60000, 10000) // unclipped end would be 131072
	require.EqualValues(t, 0, start)
	require.EqualValues(t, 70000, end)
}

func TestFillWritesAlignedRange(t *testing.T) {
	ranger := &fakeRanger{data: bytes.Repeat([]byte{0xAB}, 65536)}
	store := newFakeStore()
	f := New(ranger, store, noopLocker, 16, 1<<20, testLog())

	err := f.Fill(context.Background(), 0, 10)
	require.NoError(t, err)
	require.EqualValues(t, 0, ranger.lastStart)
	require.EqualValues(t, 65535, ranger.lastEnd)
	require.Contains(t, store.writes, int64(0))
}
