package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/docgo/internal/fs"
)

var (
	walMagic          = [4]byte{'D', 'G', 'W', '0'}
	walHeaderVersion  = uint16(1)
	walHeaderFixedLen = 16 // excludes the variable codec name bytes
)

var (
	// ErrInvalidHeader is returned when the WAL file starts with bytes that
	// are not a valid header.
	ErrInvalidHeader = errors.New("invalid WAL header")
	// ErrIncompatibleVersion is returned when the WAL was written by an
	// incompatible format version.
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
)

type headerInfo struct {
	Compressed       bool
	CompressionLevel int
	Codec            string
	HeaderLen        int64
}

func writeHeader(w io.Writer, info headerInfo) (int64, error) {
	if len(info.Codec) > 255 {
		return 0, fmt.Errorf("codec name too long: %d bytes", len(info.Codec))
	}

	var flags uint16
	if info.Compressed {
		flags |= 1
	}
	level := uint8(0)
	if info.Compressed {
		level = uint8(info.CompressionLevel)
	}

	buf := make([]byte, 0, walHeaderFixedLen+2+len(info.Codec))
	buf = append(buf, walMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], walHeaderVersion)
	binary.LittleEndian.PutUint16(fixed[2:4], flags)
	fixed[4] = level
	// fixed[5:12] reserved
	buf = append(buf, fixed[:]...)

	var nameLen [2]byte
	binary.LittleEndian.PutUint16(nameLen[:], uint16(len(info.Codec)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, info.Codec...)

	if _, err := w.Write(buf); err != nil {
		return 0, fmt.Errorf("write WAL header: %w", err)
	}
	return int64(len(buf)), nil
}

func readHeader(f fs.File) (headerInfo, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return headerInfo{}, fmt.Errorf("seek WAL: %w", err)
	}

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return headerInfo{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if magic != walMagic {
		return headerInfo{}, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, magic)
	}

	fixed := make([]byte, walHeaderFixedLen-4)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return headerInfo{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	version := binary.LittleEndian.Uint16(fixed[0:2])
	if version != walHeaderVersion {
		return headerInfo{}, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, version, walHeaderVersion)
	}
	flags := binary.LittleEndian.Uint16(fixed[2:4])
	compressed := (flags & 1) != 0
	level := int(fixed[4])
	// fixed[5:12] reserved

	var nameLen [2]byte
	if _, err := io.ReadFull(f, nameLen[:]); err != nil {
		return headerInfo{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	n := binary.LittleEndian.Uint16(nameLen[:])
	name := make([]byte, n)
	if _, err := io.ReadFull(f, name); err != nil {
		return headerInfo{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	return headerInfo{
		Compressed:       compressed,
		CompressionLevel: level,
		Codec:            string(name),
		HeaderLen:        int64(walHeaderFixedLen) + 2 + int64(n),
	}, nil
}
