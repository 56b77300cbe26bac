package archive

import (
	"os"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

type fakeFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return f.modTime }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() interface{}   { return nil }

// assertStat compares the full translated Stat against an expected
// value with a structural diff rather than a single-field assertion,
// the way fs/loopback_test.go compares fuse.Attr snapshots.
func assertStat(t *testing.T, want, got Stat) {
	t.Helper()
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("translateStat mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateStatRegularFile(t *testing.T) {
	modTime := time.Unix(1700000000, 0)
	fi := fakeFileInfo{name: "a.txt", size: 5000, mode: 0o444, modTime: modTime}
	want := Stat{
		Mode:    0o444,
		Size:    5000,
		ModTime: modTime,
		Nlink:   1,
		Blksize: blksize,
		Blocks:  ((5000 - 1) >> 9) + 1,
	}
	assertStat(t, want, translateStat(fi))
}

func TestTranslateStatEmptyFile(t *testing.T) {
	modTime := time.Unix(1700000000, 0)
	fi := fakeFileInfo{name: "empty", size: 0, mode: 0o444, modTime: modTime}
	want := Stat{
		Mode:    0o444,
		Size:    0,
		ModTime: modTime,
		Nlink:   1,
		Blksize: blksize,
		Blocks:  0,
	}
	assertStat(t, want, translateStat(fi))
}

func TestTranslateStatDirectory(t *testing.T) {
	modTime := time.Unix(1700000000, 0)
	fi := fakeFileInfo{name: "dir", mode: os.ModeDir | 0o555, modTime: modTime}
	want := Stat{
		Mode:    os.ModeDir | 0o555,
		Size:    0,
		ModTime: modTime,
		Nlink:   2,
		Blksize: blksize,
		Blocks:  0,
	}
	assertStat(t, want, translateStat(fi))
}

func TestTranslateStatSymlink(t *testing.T) {
	modTime := time.Unix(1700000000, 0)
	fi := fakeFileInfo{name: "link", size: 4, mode: os.ModeSymlink | 0o777, modTime: modTime}
	want := Stat{
		Mode:    os.ModeSymlink | 0o777,
		Size:    4,
		ModTime: modTime,
		Nlink:   1,
		Blksize: blksize,
		Blocks:  0,
	}
	assertStat(t, want, translateStat(fi))
}

func TestNormPathAndNativeDir(t *testing.T) {
	require.Equal(t, "/", normPath(""))
	require.Equal(t, "/", normPath("/"))
	require.Equal(t, "/a/b", normPath("a/b/"))

	require.Equal(t, "", nativeDir("/"))
	require.Equal(t, "/a", nativeDir("/a/"))
}

func TestAlignDown(t *testing.T) {
	require.EqualValues(t, 0, alignDown(60000, 16))
	require.EqualValues(t, 65536, alignDown(70000, 16))
}

func TestDecodeSuperblockRejectsShortBuffer(t *testing.T) {
	_, err := DecodeSuperblock(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	buf := make([]byte, SuperblockSize)
	_, err := DecodeSuperblock(buf)
	require.Error(t, err)
}

func TestDecodeSuperblockValid(t *testing.T) {
	buf := make([]byte, SuperblockSize)
	// magic "hsqs" little-endian = 0x73717368
	buf[0], buf[1], buf[2], buf[3] = 0x68, 0x73, 0x71, 0x73
	sb, err := DecodeSuperblock(buf)
	require.NoError(t, err)
	require.EqualValues(t, squashfsMagic, sb.Magic)
}
