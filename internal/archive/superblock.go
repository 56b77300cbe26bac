package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SuperblockSize is the fixed on-disk size of the SquashFS 4.0
// superblock, per spec §3 "Superblock (SB)".
const SuperblockSize = 96

const squashfsMagic = 0x73717368 // "hsqs" little-endian

// Superblock is the fixed-size header prefixing the archive, also
// replicated (base64-encoded) in the remote object's user-metadata
// (spec §3, §6.2). Field layout follows the on-disk SquashFS 4.0
// superblock, matching the sqfs_super_t fields referenced by the
// original implementation (original_source/s3archivefs/src/repo.rs,
// print_superblock): inode_table_start, block_size, block_log,
// compression_id, bytes_used, inode_count, directory_table_start,
// fragment_table_start, export_table_start, id_table_start,
// xattr_id_table_start.
type Superblock struct {
	Magic               uint32
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragCount           uint32
	CompressionID       uint16
	BlockLog            uint16
	Flags               uint16
	IDCount             uint16
	VersionMajor        uint16
	VersionMinor        uint16
	RootInode           uint64
	BytesUsed           uint64
	IDTableStart        uint64
	XattrIDTableStart   uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	ExportTableStart    uint64
}

// tableAbsent is the "absent" sentinel used by several SquashFS
// table-start fields.
const tableAbsent = ^uint64(0)

// HasXattrTable reports whether the archive carries an xattr table.
func (sb *Superblock) HasXattrTable() bool {
	return sb.XattrIDTableStart != tableAbsent
}

// DecodeSuperblock parses the fixed-size leading bytes of the archive
// into a Superblock, failing with an error (wrapped by callers as
// archiveerr.Bootstrap) if the magic doesn't match or buf is too
// short.
func DecodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockSize {
		return nil, fmt.Errorf("superblock buffer too short: %d < %d", len(buf), SuperblockSize)
	}
	var sb Superblock
	if err := binary.Read(bytes.NewReader(buf[:SuperblockSize]), binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("decode superblock: %w", err)
	}
	if sb.Magic != squashfsMagic {
		return nil, fmt.Errorf("bad superblock magic %#x", sb.Magic)
	}
	return &sb, nil
}
