package archive

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lazysquash/lazysquash/internal/holedetect"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type fakeRWAt struct {
	data  []byte
	reads int
}

func (f *fakeRWAt) ReadAt(buf []byte, offset int64) (int, error) {
	f.reads++
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeRWAt) WriteAt(buf []byte, offset int64) (int, error) {
	n := copy(f.data[offset:], buf)
	return n, nil
}

func (f *fakeRWAt) File() *os.File { return nil }

type fakeDetector struct {
	verdict holedetect.Verdict
}

func (d fakeDetector) Classify(readOffset int64, buf []byte) (holedetect.Verdict, error) {
	return d.verdict, nil
}

func TestCachingBackendReadAtMetadataAreaSkipsDetection(t *testing.T) {
	store := &fakeRWAt{data: make([]byte, 100)}
	detect := fakeDetector{verdict: holedetect.Verdict{Hole: true, Start: 0}}
	fillCalled := false
	fill := func(ctx context.Context, start, length int64) error {
		fillCalled = true
		return nil
	}
	b := newCachingBackend(store, detect, fill, 50, 100, testLog())

	buf := make([]byte, 10)
	_, err := b.ReadAt(buf, 60)
	require.NoError(t, err)
	require.False(t, fillCalled)
}

func TestCachingBackendReadAtHoleTriggersFill(t *testing.T) {
	store := &fakeRWAt{data: make([]byte, 100)}
	detect := fakeDetector{verdict: holedetect.Verdict{Hole: true, Start: 0}}
	fillCalled := false
	fill := func(ctx context.Context, start, length int64) error {
		fillCalled = true
		return nil
	}
	b := newCachingBackend(store, detect, fill, 50, 100, testLog())

	buf := make([]byte, 10)
	_, err := b.ReadAt(buf, 0)
	require.NoError(t, err)
	require.True(t, fillCalled)
	require.Equal(t, 2, store.reads) // original + re-read after fill
}

func TestCachingBackendReadAtPresentSkipsFill(t *testing.T) {
	store := &fakeRWAt{data: make([]byte, 100)}
	detect := fakeDetector{verdict: holedetect.Verdict{Hole: false}}
	fillCalled := false
	fill := func(ctx context.Context, start, length int64) error {
		fillCalled = true
		return nil
	}
	b := newCachingBackend(store, detect, fill, 50, 100, testLog())

	buf := make([]byte, 10)
	_, err := b.ReadAt(buf, 0)
	require.NoError(t, err)
	require.False(t, fillCalled)
	require.Equal(t, 1, store.reads)
}
