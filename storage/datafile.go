package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/hupe1980/docgo/internal/fs"
)

// The data file is an append-only log of document records:
//
//	[CRC32:4][Kind:1][CollectionLen:2][Collection][DocID:8][DocLen:4][Doc]
//
// The CRC32 (IEEE) covers everything after the checksum field. A put record
// carries the codec-encoded document; a tombstone carries no document bytes.
// The file starts with a fixed header so a reopened store knows which codec
// encoded the documents without relying on configuration.

const (
	// DataFileName is the name of the document log inside the store directory.
	DataFileName = "data.log"

	recordHeaderLen = 4 + 1 + 2 + 8 + 4

	// maxRecordSize bounds a single record so a corrupted length field cannot
	// trigger a huge allocation during the open scan.
	maxRecordSize = 64 * 1024 * 1024

	dataWriteBufferSize = 64 * 1024
)

type recordKind uint8

const (
	recordPut recordKind = iota + 1
	recordTombstone
)

var (
	dataMagic = [4]byte{'D', 'G', 'D', '0'}

	dataVersion = uint16(1)

	// errCorruptRecord marks the first unreadable record during a scan. The
	// open path treats it as the end of the valid log and truncates the tail.
	errCorruptRecord = errors.New("corrupt data record")

	errRecordTooLarge = errors.New("data record exceeds size limit")

	// ErrInvalidDataFile is returned when the data file header is not
	// recognized.
	ErrInvalidDataFile = errors.New("invalid data file")
)

// dataFile owns the append handle of the document log.
type dataFile struct {
	fsys       fs.FileSystem
	file       fs.File
	bw         *bufio.Writer
	path       string
	codecName  string
	dataOffset int64
	size       int64
	scratch    []byte
}

// openDataFile opens or creates the document log. A new file gets a header
// naming the configured codec; an existing file keeps the codec it was
// created with.
func openDataFile(fsys fs.FileSystem, path string, codecName string) (*dataFile, error) {
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	d := &dataFile{
		fsys:      fsys,
		file:      file,
		path:      path,
		codecName: codecName,
	}

	if info.Size() == 0 {
		if err := d.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		if err := d.readHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	d.bw = bufio.NewWriterSize(d.file, dataWriteBufferSize)

	return d, nil
}

func (d *dataFile) writeHeader() error {
	buf := make([]byte, 0, 4+2+2+len(d.codecName))
	buf = append(buf, dataMagic[:]...)
	buf = binary.BigEndian.AppendUint16(buf, dataVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(d.codecName))) //nolint:gosec // codec names are short
	buf = append(buf, d.codecName...)

	if _, err := d.file.Write(buf); err != nil {
		return fmt.Errorf("write data file header: %w", err)
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("sync data file header: %w", err)
	}

	d.dataOffset = int64(len(buf))
	d.size = d.dataOffset

	return nil
}

func (d *dataFile) readHeader() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	fixed := make([]byte, 4+2+2)
	if _, err := io.ReadFull(d.file, fixed); err != nil {
		return fmt.Errorf("%w: short header", ErrInvalidDataFile)
	}
	if [4]byte(fixed[:4]) != dataMagic {
		return fmt.Errorf("%w: bad magic", ErrInvalidDataFile)
	}
	if v := binary.BigEndian.Uint16(fixed[4:6]); v != dataVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidDataFile, v)
	}

	nameLen := int(binary.BigEndian.Uint16(fixed[6:8]))
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(d.file, name); err != nil {
		return fmt.Errorf("%w: short codec name", ErrInvalidDataFile)
	}

	d.codecName = string(name)
	d.dataOffset = int64(len(fixed) + nameLen)
	d.size = d.dataOffset

	return nil
}

// load replays every intact record into fn, truncates a torn tail left by a
// crash mid-append, and positions the append handle after the last valid
// record. It must run before the first append.
func (d *dataFile) load(fn func(kind recordKind, collection string, docID uint64, doc []byte) error) error {
	rf, err := d.fsys.OpenFile(d.path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open data file for scan: %w", err)
	}

	if _, err := rf.Seek(d.dataOffset, io.SeekStart); err != nil {
		_ = rf.Close()
		return err
	}

	br := bufio.NewReaderSize(rf, dataWriteBufferSize)
	valid := d.dataOffset

	for {
		n, kind, collection, docID, doc, err := readRecord(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errCorruptRecord) {
			break
		}
		if err != nil {
			_ = rf.Close()
			return err
		}

		if err := fn(kind, collection, docID, doc); err != nil {
			_ = rf.Close()
			return err
		}

		valid += n
	}

	if err := rf.Close(); err != nil {
		return err
	}

	info, err := d.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() > valid {
		if err := d.fsys.Truncate(d.path, valid); err != nil {
			return fmt.Errorf("truncate torn data tail: %w", err)
		}
	}

	if _, err := d.file.Seek(valid, io.SeekStart); err != nil {
		return err
	}

	d.size = valid

	return nil
}

// append frames and buffers one record. Bytes reach the OS on flush and
// become durable on sync.
func (d *dataFile) append(kind recordKind, collection string, docID uint64, doc []byte) error {
	rec, err := encodeRecord(d.scratch[:0], kind, collection, docID, doc)
	if err != nil {
		return err
	}
	d.scratch = rec[:0]

	if _, err := d.bw.Write(rec); err != nil {
		return fmt.Errorf("append data record: %w", err)
	}

	d.size += int64(len(rec))

	return nil
}

func (d *dataFile) flush() error {
	return d.bw.Flush()
}

func (d *dataFile) sync() error {
	if err := d.bw.Flush(); err != nil {
		return err
	}
	return d.file.Sync()
}

func (d *dataFile) close() error {
	flushErr := d.bw.Flush()
	closeErr := d.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func encodeRecord(dst []byte, kind recordKind, collection string, docID uint64, doc []byte) ([]byte, error) {
	if len(collection) > 0xFFFF {
		return nil, fmt.Errorf("collection name too long: %d bytes", len(collection))
	}

	total := recordHeaderLen + len(collection) + len(doc)
	if total > maxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", errRecordTooLarge, total)
	}

	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = append(dst, byte(kind))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(collection))) //nolint:gosec // bounds checked above
	dst = append(dst, collection...)
	dst = binary.BigEndian.AppendUint64(dst, docID)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(doc))) //nolint:gosec // bounds checked above
	dst = append(dst, doc...)

	crc := crc32.ChecksumIEEE(dst[start+4:])
	binary.BigEndian.PutUint32(dst[start:start+4], crc)

	return dst, nil
}

// readRecord decodes one record and reports how many bytes it consumed.
// io.EOF means a clean end; any mid-record failure wraps errCorruptRecord.
func readRecord(r io.Reader) (n int64, kind recordKind, collection string, docID uint64, doc []byte, err error) {
	var crcBuf [4]byte
	read, rerr := io.ReadFull(r, crcBuf[:])
	if rerr != nil {
		if read == 0 && errors.Is(rerr, io.EOF) {
			return 0, 0, "", 0, nil, io.EOF
		}
		return 0, 0, "", 0, nil, fmt.Errorf("%w: short checksum", errCorruptRecord)
	}
	crc := binary.BigEndian.Uint32(crcBuf[:])

	fixed := make([]byte, 1+2)
	if _, rerr := io.ReadFull(r, fixed); rerr != nil {
		return 0, 0, "", 0, nil, fmt.Errorf("%w: short record header", errCorruptRecord)
	}

	kind = recordKind(fixed[0])
	if kind != recordPut && kind != recordTombstone {
		return 0, 0, "", 0, nil, fmt.Errorf("%w: unknown kind %d", errCorruptRecord, fixed[0])
	}

	collLen := int(binary.BigEndian.Uint16(fixed[1:3]))

	rest := make([]byte, collLen+8+4)
	if _, rerr := io.ReadFull(r, rest); rerr != nil {
		return 0, 0, "", 0, nil, fmt.Errorf("%w: short record body", errCorruptRecord)
	}

	docLen := int(binary.BigEndian.Uint32(rest[collLen+8:]))
	if recordHeaderLen+collLen+docLen > maxRecordSize {
		return 0, 0, "", 0, nil, fmt.Errorf("%w: oversized record", errCorruptRecord)
	}

	if docLen > 0 {
		doc = make([]byte, docLen)
		if _, rerr := io.ReadFull(r, doc); rerr != nil {
			return 0, 0, "", 0, nil, fmt.Errorf("%w: short document", errCorruptRecord)
		}
	}

	sum := crc32.ChecksumIEEE(fixed)
	sum = crc32.Update(sum, crc32.IEEETable, rest)
	if docLen > 0 {
		sum = crc32.Update(sum, crc32.IEEETable, doc)
	}
	if sum != crc {
		return 0, 0, "", 0, nil, fmt.Errorf("%w: checksum mismatch", errCorruptRecord)
	}

	collection = string(rest[:collLen])
	docID = binary.BigEndian.Uint64(rest[collLen : collLen+8])

	return int64(recordHeaderLen + collLen + docLen), kind, collection, docID, doc, nil
}
