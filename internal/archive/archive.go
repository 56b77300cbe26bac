// Package archive wraps the SquashFS archive-library collaborator
// (spec §6.1, concretely github.com/diskfs/go-diskfs/filesystem/
// squashfs) with the lazy-materialization cache engine, and
// translates its directory-tree nodes into the POSIX stat/xattr/
// symlink surface the filesystem façade needs (spec §4.5, §4.6).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	dsquashfs "github.com/diskfs/go-diskfs/filesystem/squashfs"
	"github.com/sirupsen/logrus"

	"github.com/lazysquash/lazysquash/internal/archiveerr"
	"github.com/lazysquash/lazysquash/internal/config"
	"github.com/lazysquash/lazysquash/internal/fetch"
	"github.com/lazysquash/lazysquash/internal/holedetect"
	"github.com/lazysquash/lazysquash/internal/remote"
	"github.com/lazysquash/lazysquash/internal/sparsestore"
)

// Stat is the POSIX stat translation of an archive directory-tree
// node, per spec §4.6 "getattr".
type Stat struct {
	Mode    os.FileMode // includes the Go-native type bits
	Size    int64
	ModTime time.Time
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Blocks  uint64
	Blksize uint32
}

// blksize is fixed per spec §4.6.
const blksize = 4096

// Entry is one item returned by ReadDir: a name plus its translated
// Stat, synthesized exactly as getattr would for that child (spec §4.6
// "readdir").
type Entry struct {
	Name string
	Stat Stat
}

// Archive is the per-mount handle: cache store, remote client,
// hole-detector, range-fetcher, and the underlying SquashFS reader, as
// described by spec §3 "Archive state" / "Context".
type Archive struct {
	store    *sparsestore.Store
	remote   *remote.Remote
	fetcher  *fetch.Fetcher
	sb       *Superblock
	chunkLog uint
	length   int64
	fs       *dsquashfs.FileSystem
	log      *logrus.Entry
}

// xattrCapable is satisfied by FileStat implementations that expose
// SquashFS xattrs. go-diskfs's public squashfs.FileStat does not
// currently surface the xattr key/value stream, so Getxattr/Listxattr
// degrade gracefully (return NoData / empty) when the concrete
// FileStat value the library hands back doesn't implement this
// interface, rather than hand-parsing the xattr table ourselves
// against an unconfirmed on-disk layout.
type xattrCapable interface {
	Xattrs() (map[string]string, error)
}

// linkCapable is satisfied by FileStat implementations that expose a
// symlink target directly; absent that, Readlink falls back to
// reading the node's own content, which is how the underlying
// SquashFS inode stores a symlink's target.
type linkCapable interface {
	Readlink() (string, error)
}

// Bootstrap constructs a cache from scratch (or reuses an existing
// one), per spec §4.6 "Bootstrap".
func Bootstrap(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Archive, error) {
	log = log.WithField("component", "archive")

	rem, err := remote.New(ctx, cfg.Region, cfg.Bucket, cfg.Key, log)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(cfg.CachePath)
	needsBootstrap := os.IsNotExist(statErr) || cfg.Force

	var store *sparsestore.Store
	var sb *Superblock
	var length int64

	if needsBootstrap {
		sbBytes, remoteLength, err := rem.Head(ctx)
		if err != nil {
			return nil, err
		}
		sb, err = DecodeSuperblock(sbBytes)
		if err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}

		// The metadata copy must equal the object's own leading bytes.
		headBody, err := rem.GetRange(ctx, 0, SuperblockSize-1)
		if err != nil {
			return nil, err
		}
		remoteSB := make([]byte, SuperblockSize)
		_, err = io.ReadFull(headBody, remoteSB)
		headBody.Close()
		if err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Transport, err)
		}
		if !bytes.Equal(remoteSB, sbBytes) {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap,
				fmt.Errorf("superblock metadata differs from the object's first %d bytes", SuperblockSize))
		}

		store, err = sparsestore.CreateSparse(cfg.CachePath, remoteLength, log)
		if err != nil {
			return nil, err
		}
		if _, err := store.WriteAt(sbBytes, 0); err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}

		chunkLog := config.ChunkLog(uint(sb.BlockLog), cfg.ChunkSize)
		metaStart := alignDown(int64(sb.InodeTableStart), chunkLog)

		body, err := rem.GetRange(ctx, metaStart, remoteLength-1)
		if err != nil {
			return nil, err
		}
		if err := copyInto(store, body, metaStart); err != nil {
			body.Close()
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}
		body.Close()
		if err := store.Sync(); err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}

		length = remoteLength
	} else {
		store, err = sparsestore.Open(cfg.CachePath, log)
		if err != nil {
			return nil, err
		}
		head := make([]byte, SuperblockSize)
		if _, err := store.ReadAt(head, 0); err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}
		sb, err = DecodeSuperblock(head)
		if err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}
		fi, err := os.Stat(cfg.CachePath)
		if err != nil {
			return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
		}
		length = fi.Size()
	}

	chunkLog := config.ChunkLog(uint(sb.BlockLog), cfg.ChunkSize)
	metaStart := alignDown(int64(sb.InodeTableStart), chunkLog)

	detector := holedetect.New(cfg.HoleMode, store)

	lock := func(ctx context.Context, timeout time.Duration) (io.Closer, error) {
		return sparsestore.LockExclusive(ctx, cfg.CachePath, timeout)
	}
	fetcher := fetch.New(rem, store, lock, chunkLog, length, log)

	backend := newCachingBackend(store, detector, fetcher.Fill, metaStart, length, log)

	fsys, err := dsquashfs.Read(backend, length, 0, int64(sb.BlockSize))
	if err != nil {
		return nil, archiveerr.New("archive.Bootstrap", archiveerr.Bootstrap, err)
	}

	ar := &Archive{
		store:    store,
		remote:   rem,
		fetcher:  fetcher,
		sb:       sb,
		chunkLog: chunkLog,
		length:   length,
		fs:       fsys,
		log:      log,
	}

	if cfg.InitRoot {
		if _, err := ar.ReadDir(ctx, "/"); err != nil {
			log.WithError(err).Warn("init_root: failed to pre-walk directory tree")
		}
	}

	return ar, nil
}

// Close releases the cache file.
func (a *Archive) Close() error {
	return a.store.Close()
}

// IsMetadataArea reports whether offset lies in the eagerly-fetched
// metadata region [inode_table_start, EOF) (spec §3 "Cache file").
func (a *Archive) IsMetadataArea(offset int64) bool {
	return offset >= int64(a.sb.InodeTableStart)
}

// normPath turns a façade path ("", "/", "a/b") into the leading-slash
// native path the underlying library expects.
func normPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/"
	}
	return "/" + p
}

// nativeDir turns a leading-slash native path into the directory
// argument go-diskfs's ReadDir expects, which is an empty string for
// the archive root rather than "/" — the same convention
// rclone-rclone/backend/archive/squashfs/squashfs.go's newObjectNative
// uses (dir, leaf := path.Split(nativePath); dir = TrimRight(dir, "/")).
func nativeDir(native string) string {
	return strings.TrimRight(native, "/")
}

// Stat resolves path to an inode and translates it into a POSIX stat,
// per spec §4.6 "getattr".
func (a *Archive) Stat(ctx context.Context, p string) (*Stat, error) {
	native := normPath(p)
	if native == "/" {
		return &Stat{Mode: os.ModeDir | 0o555, Nlink: 2, Blksize: blksize, ModTime: time.Unix(int64(a.sb.ModTime), 0)}, nil
	}

	dir, base := path.Split(native)
	entries, err := a.fs.ReadDir(nativeDir(dir))
	if err != nil {
		return nil, archiveerr.New("archive.Stat", archiveerr.NotFound, err)
	}
	for _, fi := range entries {
		if fi.Name() == base {
			st := translateStat(fi)
			return &st, nil
		}
	}
	return nil, archiveerr.New("archive.Stat", archiveerr.NotFound, os.ErrNotExist)
}

// translateStat implements the field-by-field mapping rules of spec
// §4.6 "getattr" over whatever os.FileInfo the archive library hands
// back. go-diskfs's squashfs.FileStat satisfies os.FileInfo; the
// finer-grained extended-inode fields (explicit nlink, uid/gid via id
// table, sparse block count) are not exposed through that public
// surface, so we derive the best POSIX-faithful approximation
// documented in DESIGN.md: nlink defaults to 2 for directories and 1
// otherwise (spec's "basic regular-file variant" default), uid/gid
// default to the mount's root ownership.
func translateStat(fi os.FileInfo) Stat {
	st := Stat{
		Mode:    fi.Mode(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Blksize: blksize,
		Nlink:   1,
	}
	if fi.IsDir() {
		st.Nlink = 2
	}
	if fi.Mode().IsRegular() {
		st.Blocks = uint64(((st.Size - 1) >> 9) + 1)
		if st.Size == 0 {
			st.Blocks = 0
		}
	}
	return st
}

// ReadDir lists the immediate children of path, synthesizing each
// entry's stat via the same translation Stat uses, per spec §4.6
// "readdir".
func (a *Archive) ReadDir(ctx context.Context, p string) ([]Entry, error) {
	fis, err := a.fs.ReadDir(nativeDir(normPath(p)))
	if err != nil {
		return nil, archiveerr.New("archive.ReadDir", archiveerr.NotFound, err)
	}
	out := make([]Entry, 0, len(fis))
	for _, fi := range fis {
		out = append(out, Entry{Name: fi.Name(), Stat: translateStat(fi)})
	}
	return out, nil
}

// fileHandle is the minimal surface Read needs from a FileStat's
// Open() result.
type fileHandle interface {
	io.Reader
	io.Seeker
}

// lookupFile resolves path to its directory entry (not just its
// translated Stat), since Read/Readlink/Getxattr need the concrete
// FileStat value to call Open()/Xattrs()/Readlink() on.
func (a *Archive) lookupFile(p string) (os.FileInfo, error) {
	native := normPath(p)
	dir, base := path.Split(native)
	fis, err := a.fs.ReadDir(nativeDir(dir))
	if err != nil {
		return nil, archiveerr.New("archive.lookupFile", archiveerr.NotFound, err)
	}
	for _, fi := range fis {
		if fi.Name() == base {
			return fi, nil
		}
	}
	return nil, archiveerr.New("archive.lookupFile", archiveerr.NotFound, os.ErrNotExist)
}

// Read decodes up to len(dest) bytes of path's data starting at
// offset, per spec §4.6 "read". Non-regular files fail with NotFound,
// matching spec's "reject non-regular files with a NotFound-like
// error".
func (a *Archive) Read(ctx context.Context, p string, offset int64, dest []byte) (int, error) {
	fi, err := a.lookupFile(p)
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, archiveerr.New("archive.Read", archiveerr.NotFound, os.ErrInvalid)
	}
	opener, ok := fi.(interface{ Open() (fileHandle, error) })
	if !ok {
		return 0, archiveerr.New("archive.Read", archiveerr.IO, os.ErrInvalid)
	}
	fh, err := opener.Open()
	if err != nil {
		return 0, archiveerr.New("archive.Read", archiveerr.IO, err)
	}
	if c, ok := fh.(io.Closer); ok {
		defer c.Close()
	}
	if offset > 0 {
		if _, err := fh.Seek(offset, io.SeekStart); err != nil {
			return 0, archiveerr.New("archive.Read", archiveerr.IO, err)
		}
	}
	n, err := io.ReadFull(fh, dest)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, archiveerr.New("archive.Read", archiveerr.IO, err)
	}
	return n, nil
}

// Readlink returns the symlink target of path, per spec §4.6
// "readlink".
func (a *Archive) Readlink(ctx context.Context, p string) (string, error) {
	fi, err := a.lookupFile(p)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", archiveerr.New("archive.Readlink", archiveerr.NotFound, os.ErrInvalid)
	}
	if lc, ok := fi.(linkCapable); ok {
		return lc.Readlink()
	}
	// Fall back to reading the node's own content: SquashFS stores a
	// symlink's target as its inode payload.
	opener, ok := fi.(interface{ Open() (fileHandle, error) })
	if !ok {
		return "", archiveerr.New("archive.Readlink", archiveerr.IO, os.ErrInvalid)
	}
	fh, err := opener.Open()
	if err != nil {
		return "", archiveerr.New("archive.Readlink", archiveerr.IO, err)
	}
	if c, ok := fh.(io.Closer); ok {
		defer c.Close()
	}
	buf := make([]byte, fi.Size())
	if _, err := io.ReadFull(fh, buf); err != nil {
		return "", archiveerr.New("archive.Readlink", archiveerr.IO, err)
	}
	return string(buf), nil
}

// Getxattr returns the value of xattr name on path, per spec §4.6
// "getxattr".
func (a *Archive) Getxattr(ctx context.Context, p, name string) ([]byte, error) {
	fi, err := a.lookupFile(p)
	if err != nil {
		return nil, err
	}
	xc, ok := fi.(xattrCapable)
	if !ok {
		return nil, archiveerr.New("archive.Getxattr", archiveerr.NoData, os.ErrNotExist)
	}
	all, err := xc.Xattrs()
	if err != nil {
		return nil, archiveerr.New("archive.Getxattr", archiveerr.IO, err)
	}
	v, ok := all[name]
	if !ok {
		return nil, archiveerr.New("archive.Getxattr", archiveerr.NoData, os.ErrNotExist)
	}
	return []byte(v), nil
}

// Listxattr enumerates all xattr keys on path, per spec §4.6
// "listxattr".
func (a *Archive) Listxattr(ctx context.Context, p string) ([]string, error) {
	fi, err := a.lookupFile(p)
	if err != nil {
		return nil, err
	}
	xc, ok := fi.(xattrCapable)
	if !ok {
		return nil, nil
	}
	all, err := xc.Xattrs()
	if err != nil {
		return nil, archiveerr.New("archive.Listxattr", archiveerr.IO, err)
	}
	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	return names, nil
}

func alignDown(v int64, log uint) int64 {
	chunk := int64(1) << log
	return v &^ (chunk - 1)
}

func copyInto(store *sparsestore.Store, r io.Reader, offset int64) error {
	buf := make([]byte, 1<<20)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := store.WriteAt(buf[:n], offset); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
