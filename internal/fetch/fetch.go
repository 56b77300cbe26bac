// Package fetch implements the RangeFetcher of spec §4.4: on a
// detected hole, compute the aligned fetch window, acquire the cache
// file lock, stream the range from the remote store into the sparse
// store, and release the lock.
package fetch

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lazysquash/lazysquash/internal/archiveerr"
)

// LockTimeout is the fixed 10-second lock-wait deadline of spec §4.4
// step 4.
const LockTimeout = 10 * time.Second

// Ranger is the remote collaborator Fetcher needs.
type Ranger interface {
	GetRange(ctx context.Context, start, endInclusive int64) (io.ReadCloser, error)
}

// Store is the local collaborator Fetcher needs: a positioned writer
// plus Sync to flush what was written. Locking goes through Locker.
type Store interface {
	WriteAt(buf []byte, offset int64) (int, error)
	Sync() error
}

// Locker acquires the exclusive advisory lock used to serialize fills;
// callers adapt sparsestore.LockExclusive by binding the cache path.
type Locker func(ctx context.Context, timeout time.Duration) (io.Closer, error)

// Fetcher orchestrates range fetch-and-fill.
type Fetcher struct {
	remote    Ranger
	store     Store
	lock      Locker
	chunkLog  uint
	archiveLen int64
	log       *logrus.Entry
}

// New constructs a Fetcher. archiveLen is the total archive length,
// used to clip the aligned fetch window at end-of-file (spec §4.4
// step 2).
func New(remote Ranger, store Store, lock Locker, chunkLog uint, archiveLen int64, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		remote:     remote,
		store:      store,
		lock:       lock,
		chunkLog:   chunkLog,
		archiveLen: archiveLen,
		log:        log.WithField("component", "fetch"),
	}
}

// AlignedWindow computes the aligned fetch window for a request
// [start, start+length), per spec §4.4 steps 1-2, clipped to
// archiveLen.
func (f *Fetcher) AlignedWindow(start, length int64) (alignedStart, alignedEnd int64) {
	chunk := int64(1) << f.chunkLog
	alignedStart = start &^ (chunk - 1)
	alignedEnd = ((start + length + chunk - 1) &^ (chunk - 1))
	if alignedEnd > f.archiveLen {
		alignedEnd = f.archiveLen
	}
	return alignedStart, alignedEnd
}

// Fill fetches and writes the aligned window covering [start,
// start+length), per spec §4.4 and §5 (the copy is offloaded to a
// joined worker so the calling goroutine — the FUSE read callback —
// observes strictly synchronous behavior, mirroring the original
// Rust implementation's std::thread::spawn(...).join() in
// original_source/s3archivefs/src/repo.rs).
func (f *Fetcher) Fill(ctx context.Context, start, length int64) error {
	alignedStart, alignedEnd := f.AlignedWindow(start, length)
	if alignedEnd <= alignedStart {
		return nil
	}

	f.log.WithFields(logrus.Fields{
		"start": alignedStart,
		"end":   alignedEnd,
	}).Debug("fill: fetching aligned range")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.fillOnce(gctx, alignedStart, alignedEnd)
	})
	if err := g.Wait(); err != nil {
		return archiveerr.New("fetch.Fill", archiveerr.Transport, err)
	}
	return nil
}

func (f *Fetcher) fillOnce(ctx context.Context, alignedStart, alignedEnd int64) error {
	guard, err := f.lock(ctx, LockTimeout)
	if err != nil {
		return err
	}
	defer guard.Close()

	body, err := f.remote.GetRange(ctx, alignedStart, alignedEnd-1)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, 1<<20)
	offset := alignedStart
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.store.WriteAt(buf[:n], offset); werr != nil {
				return archiveerr.New("fetch.fillOnce", archiveerr.IO, werr)
			}
			offset += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return archiveerr.New("fetch.fillOnce", archiveerr.Transport, rerr)
		}
	}
	return f.store.Sync()
}
