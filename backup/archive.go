package backup

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Archive layout:
//
//	[magic "DGBK"][version:1][compression:1]
//	compressed stream of entries:
//	  [nameLen:2][name][size:8][data...][crc32:4]
//	terminated by nameLen == 0
//
// The CRC covers the whole entry, header fields included, so a truncated
// or bit-flipped archive is rejected at restore time instead of producing
// a corrupt database directory.

var archiveMagic = [4]byte{'D', 'G', 'B', 'K'}

const (
	archiveVersion = 1

	// maxNameLen guards against garbage lengths in damaged archives.
	maxNameLen = 4096
)

// Compression selects the archive's stream compression.
type Compression uint8

const (
	// CompressionNone stores the archive raw.
	CompressionNone Compression = iota
	// CompressionZstd compresses with zstd. The default.
	CompressionZstd
	// CompressionLZ4 compresses with lz4, trading ratio for speed.
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ErrArchiveCorrupt is returned when an archive fails validation.
var ErrArchiveCorrupt = errors.New("backup archive corrupt")

type archiveWriter struct {
	raw io.Writer
	w   io.Writer

	zw *zstd.Encoder
	lw *lz4.Writer
}

func newArchiveWriter(w io.Writer, compression Compression) (*archiveWriter, error) {
	header := make([]byte, 0, 6)
	header = append(header, archiveMagic[:]...)
	header = append(header, archiveVersion, byte(compression))
	if _, err := w.Write(header); err != nil {
		return nil, err
	}

	aw := &archiveWriter{raw: w}

	switch compression {
	case CompressionNone:
		aw.w = w
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		aw.zw = zw
		aw.w = zw
	case CompressionLZ4:
		aw.lw = lz4.NewWriter(w)
		aw.w = aw.lw
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}

	return aw, nil
}

// WriteEntry streams one named file of known size into the archive.
func (aw *archiveWriter) WriteEntry(name string, size int64, r io.Reader) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("invalid entry name %q", name)
	}

	// The checksum covers the header fields as well as the data, so a bit
	// flip in a name or size cannot restore under a wrong identity.
	crc := crc32.NewIEEE()
	hw := io.MultiWriter(aw.w, crc)

	var buf [10]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(name)))
	if _, err := hw.Write(buf[0:2]); err != nil {
		return err
	}
	if _, err := io.WriteString(hw, name); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(size))
	if _, err := hw.Write(buf[0:8]); err != nil {
		return err
	}

	n, err := io.Copy(hw, io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("entry %s: short read: have %d bytes, want %d", name, n, size)
	}

	binary.LittleEndian.PutUint32(buf[0:4], crc.Sum32())
	_, err = aw.w.Write(buf[0:4])
	return err
}

// Close writes the end marker and flushes the compressor.
func (aw *archiveWriter) Close() error {
	var end [2]byte
	if _, err := aw.w.Write(end[:]); err != nil {
		return err
	}

	switch {
	case aw.zw != nil:
		return aw.zw.Close()
	case aw.lw != nil:
		return aw.lw.Close()
	}
	return nil
}

type archiveReader struct {
	r  *bufio.Reader
	zr *zstd.Decoder
}

func newArchiveReader(r io.Reader) (*archiveReader, error) {
	br := bufio.NewReader(r)

	var header [6]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrArchiveCorrupt)
	}
	if [4]byte(header[0:4]) != archiveMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrArchiveCorrupt)
	}
	if header[4] != archiveVersion {
		return nil, fmt.Errorf("unsupported archive version %d", header[4])
	}

	ar := &archiveReader{}

	switch Compression(header[5]) {
	case CompressionNone:
		ar.r = br
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		ar.zr = zr
		ar.r = bufio.NewReader(zr)
	case CompressionLZ4:
		ar.r = bufio.NewReader(lz4.NewReader(br))
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrArchiveCorrupt, header[5])
	}

	return ar, nil
}

// Next returns the next entry's name and a reader over its data. The
// returned reader must be fully consumed before the following Next call;
// its final Read validates the entry checksum. io.EOF signals the end
// marker.
func (ar *archiveReader) Next() (string, io.Reader, error) {
	var buf [8]byte
	if _, err := io.ReadFull(ar.r, buf[0:2]); err != nil {
		return "", nil, fmt.Errorf("%w: truncated entry header", ErrArchiveCorrupt)
	}

	nameLen := binary.LittleEndian.Uint16(buf[0:2])
	if nameLen == 0 {
		return "", nil, io.EOF
	}
	if nameLen > maxNameLen {
		return "", nil, fmt.Errorf("%w: entry name length %d", ErrArchiveCorrupt, nameLen)
	}

	crc := crc32.NewIEEE()
	_, _ = crc.Write(buf[0:2])

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(ar.r, name); err != nil {
		return "", nil, fmt.Errorf("%w: truncated entry name", ErrArchiveCorrupt)
	}
	_, _ = crc.Write(name)
	if _, err := io.ReadFull(ar.r, buf[0:8]); err != nil {
		return "", nil, fmt.Errorf("%w: truncated entry size", ErrArchiveCorrupt)
	}
	_, _ = crc.Write(buf[0:8])
	size := binary.LittleEndian.Uint64(buf[0:8])

	return string(name), &entryReader{ar: ar, remaining: int64(size), crc: crc}, nil
}

func (ar *archiveReader) Close() {
	if ar.zr != nil {
		ar.zr.Close()
	}
}

// entryReader reads one entry's data and checks its trailing CRC once the
// data is exhausted.
type entryReader struct {
	ar        *archiveReader
	remaining int64
	crc       hash32
	checked   bool
}

type hash32 interface {
	io.Writer
	Sum32() uint32
}

func (er *entryReader) Read(p []byte) (int, error) {
	if er.remaining <= 0 {
		if err := er.check(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	if int64(len(p)) > er.remaining {
		p = p[:er.remaining]
	}
	n, err := er.ar.r.Read(p)
	if n > 0 {
		_, _ = er.crc.Write(p[:n])
		er.remaining -= int64(n)
	}
	if err == io.EOF && er.remaining > 0 {
		return n, fmt.Errorf("%w: truncated entry data", ErrArchiveCorrupt)
	}
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, err
	}

	if er.remaining == 0 {
		if err := er.check(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (er *entryReader) check() error {
	if er.checked {
		return nil
	}
	er.checked = true

	var buf [4]byte
	if _, err := io.ReadFull(er.ar.r, buf[:]); err != nil {
		return fmt.Errorf("%w: truncated entry checksum", ErrArchiveCorrupt)
	}
	if binary.LittleEndian.Uint32(buf[:]) != er.crc.Sum32() {
		return fmt.Errorf("%w: entry checksum mismatch", ErrArchiveCorrupt)
	}
	return nil
}
